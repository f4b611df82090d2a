// Package media is the glue between capture/playback resources and peer
// sessions: it owns the local capture handle on the publisher side and
// the playback sink on the watcher side, keeping media lifecycle in
// sync with session teardown.
package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/core"
)

var (
	ErrCaptureActive = errors.New("capture already active")
	ErrNoCapture     = errors.New("no active capture source")
)

// Capture exclusively owns the local capture tracks while broadcasting
// is active. Sessions share the tracks by reference but only Capture
// may stop or mute them.
type Capture struct {
	source core.CaptureSource

	mu     sync.Mutex
	tracks []core.LocalTrack
}

func NewCapture(source core.CaptureSource) *Capture {
	return &Capture{source: source}
}

// Start requests capture device access with the declared constraint
// set: front-facing camera preference, audio enabled, no resolution or
// frame-rate constraints.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tracks) > 0 {
		return ErrCaptureActive
	}
	tracks, err := c.source.Acquire(core.CaptureConstraints{
		Video:      true,
		FacingMode: "user",
		Audio:      true,
	})
	if err != nil {
		return fmt.Errorf("capture access denied: %w", err)
	}
	c.tracks = tracks
	log.Info().Str("module", "media").Int("tracks", len(tracks)).Msg("capture started")
	return nil
}

// Stop halts every active track and releases the handle.
func (c *Capture) Stop() {
	c.mu.Lock()
	tracks := c.tracks
	c.tracks = nil
	c.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
		log.Info().Str("module", "media").Str("kind", t.Kind()).Msg("stopped track")
	}
}

func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks) > 0
}

// Tracks returns the currently active capture tracks for binding into
// an outgoing session.
func (c *Capture) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.LocalTrack, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// ToggleVideo flips the video track's enabled flag without touching any
// bound session; no renegotiation happens. Returns the new state.
func (c *Capture) ToggleVideo() bool {
	return c.toggle("video")
}

// ToggleAudio flips the audio track's enabled flag. Returns the new state.
func (c *Capture) ToggleAudio() bool {
	return c.toggle("audio")
}

func (c *Capture) toggle(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		if t.Kind() != kind {
			continue
		}
		next := !t.Enabled()
		t.SetEnabled(next)
		log.Info().Str("module", "media").Str("kind", kind).Bool("enabled", next).Msg("toggled track")
		return next
	}
	return false
}

func (c *Capture) VideoEnabled() bool { return c.enabled("video") }
func (c *Capture) AudioEnabled() bool { return c.enabled("audio") }

func (c *Capture) enabled(kind string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		if t.Kind() == kind {
			return t.Enabled()
		}
	}
	return false
}
