package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/app"
	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
	"github.com/livecast/livecast/internal/media"
)

// Broadcaster is the publisher-side engine: one PeerSession per
// subscriber, all fed from the same capture tracks. Sessions progress
// independently; a stall in one never affects the others.
type Broadcaster struct {
	id         domain.BroadcasterID
	signal     Signaler
	transports core.TransportFactory
	capture    *media.Capture
	registry   *app.Registry
	timeout    time.Duration

	mu       sync.Mutex
	live     bool
	sessions map[domain.PeerID]*PeerSession
}

func NewBroadcaster(signal Signaler, transports core.TransportFactory, capture *media.Capture, registry *app.Registry, timeout time.Duration) *Broadcaster {
	return &Broadcaster{
		id:         domain.NewBroadcasterID(),
		signal:     signal,
		transports: transports,
		capture:    capture,
		registry:   registry,
		timeout:    timeout,
		sessions:   make(map[domain.PeerID]*PeerSession),
	}
}

func (b *Broadcaster) ID() domain.BroadcasterID { return b.id }

// Start acquires the capture handle and announces the broadcast.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live {
		return nil
	}
	if !b.signal.Connected() {
		return ErrRelayNotConnected
	}
	if err := b.capture.Start(); err != nil {
		return err
	}
	if err := b.signal.Announce(b.id); err != nil {
		b.capture.Stop()
		return fmt.Errorf("announce failed: %w", err)
	}
	b.live = true
	log.Info().Str("module", "engine").Str("broadcaster", string(b.id)).Msg("broadcast started")
	return nil
}

// HandleSubscribe reacts to a relayed watch request: create a session
// for the subscriber, bind every capture track, offer.
func (b *Broadcaster) HandleSubscribe(ctx context.Context, peer domain.PeerID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return ErrNotLive
	}
	if old, ok := b.sessions[peer]; ok {
		// Re-request from the same peer restarts its negotiation.
		b.closePeerLocked(peer, old)
	}

	tracks := b.capture.Tracks()
	if len(tracks) == 0 {
		// Precondition violation: reported, never retried.
		return ErrNoCaptureSource
	}

	transport, err := b.transports.NewTransport()
	if err != nil {
		return fmt.Errorf("transport create: %w", err)
	}
	sess := newPeerSession(peer, domain.RolePublisher, transport)

	// Candidate forwarding stays registered for the whole session
	// lifetime; candidates keep arriving after the offer is sent.
	transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		b.forwardCandidate(sess, ci)
	})
	transport.OnStateChange(func(st core.TransportState) {
		if st.Terminal() {
			go b.dropSession(sess)
		}
	})
	if err := transport.Start(ctx); err != nil {
		transport.Close()
		return fmt.Errorf("transport start: %w", err)
	}
	for _, t := range tracks {
		if err := transport.AddLocalTrack(t); err != nil {
			transport.Close()
			return fmt.Errorf("bind %s track: %w", t.Kind(), err)
		}
	}

	if err := sess.offer(b.signal); err != nil {
		transport.Close()
		return fmt.Errorf("offer to %s: %w", peer, err)
	}

	b.sessions[peer] = sess
	b.registry.Bind(peer, sess)
	b.armTimeoutLocked(sess)
	log.Info().Str("module", "engine").Str("peer", string(peer)).Str("state", sess.State().String()).Msg("subscriber session offered")
	return nil
}

// HandleAnswer applies the subscriber's answer. Answers for unknown
// peers are stale and ignored.
func (b *Broadcaster) HandleAnswer(peer domain.PeerID, desc webrtc.SessionDescription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[peer]
	if !ok {
		log.Warn().Str("module", "engine").Str("peer", string(peer)).Msg("answer for unknown session")
		return nil
	}
	if err := sess.applyAnswer(desc); err != nil {
		b.closePeerLocked(peer, sess)
		return fmt.Errorf("apply answer from %s: %w", peer, err)
	}
	sess.stopTimer()
	log.Info().Str("module", "engine").Str("peer", string(peer)).Msg("subscriber connected")
	return nil
}

// HandleCandidate applies a remote candidate from a subscriber.
func (b *Broadcaster) HandleCandidate(peer domain.PeerID, ci webrtc.ICECandidateInit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[peer]
	if !ok {
		return nil
	}
	return sess.addRemoteCandidate(ci)
}

// HandlePeerGone tears down the session for a departed subscriber.
// Duplicate notifications are no-ops.
func (b *Broadcaster) HandlePeerGone(peer domain.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sess, ok := b.sessions[peer]; ok {
		b.closePeerLocked(peer, sess)
		log.Info().Str("module", "engine").Str("peer", string(peer)).Msg("subscriber gone")
	}
}

// Stop closes every open session and releases the capture handle in one
// turn; there is no partial-stop state.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.live {
		return
	}
	for _, sess := range b.sessions {
		sess.Close()
	}
	b.sessions = make(map[domain.PeerID]*PeerSession)
	b.registry.CloseAll()
	b.capture.Stop()
	b.live = false
	log.Info().Str("module", "engine").Str("broadcaster", string(b.id)).Msg("broadcast stopped")
}

func (b *Broadcaster) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *Broadcaster) ViewerCount() int {
	return b.registry.ViewerCount()
}

func (b *Broadcaster) forwardCandidate(sess *PeerSession, ci webrtc.ICECandidateInit) {
	b.mu.Lock()
	current := b.sessions[sess.peer] == sess
	b.mu.Unlock()
	if !current {
		return
	}
	if err := b.signal.SendCandidate(sess.peer, ci); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("peer", string(sess.peer)).Msg("candidate forward failed")
	}
}

// dropSession handles a terminal transport state reported outside the
// engine lock.
func (b *Broadcaster) dropSession(sess *PeerSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[sess.peer] != sess {
		return
	}
	b.closePeerLocked(sess.peer, sess)
	log.Info().Str("module", "engine").Str("peer", string(sess.peer)).Msg("transport down, session dropped")
}

func (b *Broadcaster) closePeerLocked(peer domain.PeerID, sess *PeerSession) {
	sess.Close()
	delete(b.sessions, peer)
	b.registry.Unbind(peer)
}

func (b *Broadcaster) armTimeoutLocked(sess *PeerSession) {
	if b.timeout <= 0 {
		return
	}
	sess.timer = time.AfterFunc(b.timeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.sessions[sess.peer] != sess || sess.State() == core.StateConnected {
			return
		}
		log.Warn().Str("module", "engine").Str("peer", string(sess.peer)).Dur("timeout", b.timeout).Msg("negotiation timed out")
		b.closePeerLocked(sess.peer, sess)
	})
}
