package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

type fakeTransport struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	tracks     []core.LocalTrack
	candidates []webrtc.ICECandidateInit
	remoteDesc *webrtc.SessionDescription

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(core.TransportState)
}

func (t *fakeTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *fakeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, ci)
	return nil
}

func (t *fakeTransport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (t *fakeTransport) ApplyAnswer(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &desc
	return nil
}

func (t *fakeTransport) ApplyOfferAndCreateAnswer(desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &desc
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) { t.onICE = fn }
func (t *fakeTransport) OnTrack(fn func(core.RemoteTrack))              { t.onTrack = fn }
func (t *fakeTransport) OnStateChange(fn func(core.TransportState))     { t.onState = fn }

func (t *fakeTransport) AddLocalTrack(track core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) appliedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.candidates))
	copy(out, t.candidates)
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) NewTransport() (core.MediaTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

type sentDescription struct {
	peer domain.PeerID
	sdp  webrtc.SessionDescription
}

type sentCandidate struct {
	peer domain.PeerID
	cand webrtc.ICECandidateInit
}

type fakeSignaler struct {
	mu         sync.Mutex
	connected  bool
	announces  []domain.BroadcasterID
	watches    []domain.BroadcasterID
	offers     []sentDescription
	answers    []sentDescription
	candidates []sentCandidate
}

func (s *fakeSignaler) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSignaler) Announce(id domain.BroadcasterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announces = append(s.announces, id)
	return nil
}

func (s *fakeSignaler) Watch(id domain.BroadcasterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = append(s.watches, id)
	return nil
}

func (s *fakeSignaler) SendOffer(peer domain.PeerID, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sentDescription{peer, sdp})
	return nil
}

func (s *fakeSignaler) SendAnswer(peer domain.PeerID, sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sentDescription{peer, sdp})
	return nil
}

func (s *fakeSignaler) SendCandidate(peer domain.PeerID, cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, sentCandidate{peer, cand})
	return nil
}

func (s *fakeSignaler) watchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func (s *fakeSignaler) answerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

type fakeLocalTrack struct {
	id      string
	kind    string
	enabled bool
	stopped bool
	mu      sync.Mutex
}

func newFakeLocalTrack(id, kind string) *fakeLocalTrack {
	return &fakeLocalTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeLocalTrack) ID() string   { return t.id }
func (t *fakeLocalTrack) Kind() string { return t.kind }

func (t *fakeLocalTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *fakeLocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeLocalTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeLocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeCaptureSource struct {
	tracks []core.LocalTrack
	err    error
}

func (s *fakeCaptureSource) Acquire(core.CaptureConstraints) ([]core.LocalTrack, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tracks, nil
}

type fakeRemoteTrack struct {
	id   string
	kind string
}

func (t fakeRemoteTrack) ID() string   { return t.id }
func (t fakeRemoteTrack) Kind() string { return t.kind }

type fakePlayback struct {
	mu      sync.Mutex
	muted   bool
	playErr error
	plays   int
}

func (p *fakePlayback) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return p.playErr
}

func (p *fakePlayback) Pause() {}

func (p *fakePlayback) SetMuted(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = v
}

func (p *fakePlayback) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *fakePlayback) Dimensions() (int, int) { return 640, 480 }
func (p *fakePlayback) Position() float64      { return 0 }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
