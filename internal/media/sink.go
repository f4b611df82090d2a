package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

var ErrSinkBusy = errors.New("playback sink owned by another session")

const historyLimit = 10

type PlaybackState int

const (
	// PlaybackIdle: no media attached or playback not yet attempted.
	PlaybackIdle PlaybackState = iota
	// PlaybackPlaying: playback is running, muted or not.
	PlaybackPlaying
	// PlaybackNeedsGesture: platform policy rejected unattended
	// playback. Not an error; recovery is StartPlayback.
	PlaybackNeedsGesture
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackPlaying:
		return "playing"
	case PlaybackNeedsGesture:
		return "needs-gesture"
	default:
		return "idle"
	}
}

// SinkStats is read-only derived state for diagnostics, never for
// control decisions.
type SinkStats struct {
	HasVideo bool
	HasAudio bool
	Width    int
	Height   int
	Position float64
}

// Sink owns the local playback surface. Exactly one peer session holds
// it at a time; reassigning requires an explicit detach first.
type Sink struct {
	element core.PlaybackElement

	mu       sync.Mutex
	owner    domain.PeerID
	hasVideo bool
	hasAudio bool
	state    PlaybackState
	history  []string
}

func NewSink(element core.PlaybackElement) *Sink {
	return &Sink{element: element}
}

// Attach binds a remote track to the sink on behalf of owner. The first
// track claims the sink; a different session attaching while it is held
// is a structural violation and is rejected.
func (s *Sink) Attach(owner domain.PeerID, track core.RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" && s.owner != owner {
		return ErrSinkBusy
	}
	s.owner = owner
	switch track.Kind() {
	case "video":
		s.hasVideo = true
	case "audio":
		s.hasAudio = true
	}
	s.noteLocked(fmt.Sprintf("attached %s track %s", track.Kind(), track.ID()))
	return nil
}

// Detach releases the sink if held by owner. Detaching when not the
// owner is a no-op.
func (s *Sink) Detach(owner domain.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == "" || s.owner != owner {
		return
	}
	s.element.Pause()
	s.owner = ""
	s.hasVideo = false
	s.hasAudio = false
	s.state = PlaybackIdle
	s.noteLocked("detached")
}

// AttemptPlayback tries to start playback after tracks arrive. An
// autoplay rejection is surfaced as PlaybackNeedsGesture, not an error.
func (s *Sink) AttemptPlayback() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == "" {
		return PlaybackIdle
	}
	if err := s.element.Play(); err != nil {
		if errors.Is(err, core.ErrAutoplayBlocked) {
			s.state = PlaybackNeedsGesture
			s.noteLocked("autoplay blocked, waiting for user gesture")
			return s.state
		}
		log.Error().Err(err).Str("module", "media").Msg("playback attempt failed")
		s.state = PlaybackIdle
		return s.state
	}
	s.state = PlaybackPlaying
	s.noteLocked("playback started")
	return s.state
}

// StartPlayback is the user-gesture recovery action: try unmuted first,
// fall back to muted.
func (s *Sink) StartPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.element.SetMuted(false)
	if err := s.element.Play(); err == nil {
		s.state = PlaybackPlaying
		s.noteLocked("user playback started unmuted")
		return nil
	}
	s.element.SetMuted(true)
	if err := s.element.Play(); err != nil {
		s.noteLocked("muted playback failed")
		return fmt.Errorf("playback failed even muted: %w", err)
	}
	s.state = PlaybackPlaying
	s.noteLocked("user playback started muted")
	return nil
}

// ToggleMute flips the element mute flag, independent of playback
// state. Returns the new muted value.
func (s *Sink) ToggleMute() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := !s.element.Muted()
	s.element.SetMuted(next)
	s.noteLocked(fmt.Sprintf("muted=%t", next))
	return next
}

func (s *Sink) State() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) Owner() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, h := s.element.Dimensions()
	return SinkStats{
		HasVideo: s.hasVideo,
		HasAudio: s.hasAudio,
		Width:    w,
		Height:   h,
		Position: s.element.Position(),
	}
}

// History returns the bounded status journal, newest last.
func (s *Sink) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Sink) noteLocked(msg string) {
	entry := fmt.Sprintf("%s: %s", time.Now().Format("15:04:05"), msg)
	s.history = append(s.history, entry)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	log.Debug().Str("module", "media").Str("sink", msg).Msg("sink event")
}
