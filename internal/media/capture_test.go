package media

import (
	"errors"
	"sync"
	"testing"

	"github.com/livecast/livecast/internal/core"
)

type stubTrack struct {
	mu      sync.Mutex
	id      string
	kind    string
	enabled bool
	stopped bool
}

func newStubTrack(id, kind string) *stubTrack {
	return &stubTrack{id: id, kind: kind, enabled: true}
}

func (t *stubTrack) ID() string   { return t.id }
func (t *stubTrack) Kind() string { return t.kind }

func (t *stubTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *stubTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *stubTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *stubTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type stubSource struct {
	tracks      []core.LocalTrack
	err         error
	constraints core.CaptureConstraints
}

func (s *stubSource) Acquire(c core.CaptureConstraints) ([]core.LocalTrack, error) {
	s.constraints = c
	if s.err != nil {
		return nil, s.err
	}
	return s.tracks, nil
}

func avTracks() (*stubTrack, *stubTrack, []core.LocalTrack) {
	v := newStubTrack("v0", "video")
	a := newStubTrack("a0", "audio")
	return v, a, []core.LocalTrack{v, a}
}

func TestCaptureStartConstraints(t *testing.T) {
	_, _, tracks := avTracks()
	src := &stubSource{tracks: tracks}
	c := NewCapture(src)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !src.constraints.Video || !src.constraints.Audio {
		t.Fatalf("constraints = %+v, want video and audio", src.constraints)
	}
	if src.constraints.FacingMode != "user" {
		t.Fatalf("facing mode = %q, want user", src.constraints.FacingMode)
	}
	if !c.Active() || len(c.Tracks()) != 2 {
		t.Fatal("capture not active with both tracks")
	}
}

func TestCaptureStartTwiceRejected(t *testing.T) {
	_, _, tracks := avTracks()
	c := NewCapture(&stubSource{tracks: tracks})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive, got %v", err)
	}
}

func TestCaptureDeniedWrapsError(t *testing.T) {
	denied := errors.New("permission denied")
	c := NewCapture(&stubSource{err: denied})
	err := c.Start()
	if !errors.Is(err, denied) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	if c.Active() {
		t.Fatal("capture must stay inactive after denial")
	}
}

func TestToggleFlipsOnlyMatchingKind(t *testing.T) {
	v, a, tracks := avTracks()
	c := NewCapture(&stubSource{tracks: tracks})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	if got := c.ToggleVideo(); got {
		t.Fatal("first video toggle should disable")
	}
	if v.Enabled() {
		t.Fatal("video track still enabled")
	}
	if !a.Enabled() {
		t.Fatal("audio track must be untouched by video toggle")
	}
	if v.isStopped() || a.isStopped() {
		t.Fatal("toggle must never stop a track")
	}

	if got := c.ToggleVideo(); !got {
		t.Fatal("second video toggle should re-enable")
	}
	if !c.VideoEnabled() || !c.AudioEnabled() {
		t.Fatal("both tracks should be enabled again")
	}
}

func TestToggleWithoutCapture(t *testing.T) {
	c := NewCapture(&stubSource{})
	if c.ToggleVideo() || c.ToggleAudio() {
		t.Fatal("toggling with no tracks must report disabled")
	}
}

func TestStopHaltsAllTracks(t *testing.T) {
	v, a, tracks := avTracks()
	c := NewCapture(&stubSource{tracks: tracks})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	c.Stop()

	if c.Active() {
		t.Fatal("capture still active after stop")
	}
	if !v.isStopped() || !a.isStopped() {
		t.Fatal("tracks not stopped")
	}

	// Restart acquires a fresh handle.
	if err := c.Start(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}
