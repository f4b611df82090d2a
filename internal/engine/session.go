// Package engine drives the offer/answer/ICE exchange for each peer
// session. All session state mutation goes through engine methods;
// transport callbacks only post events back, never touch shared state
// directly.
package engine

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

var (
	ErrRelayNotConnected = errors.New("relay connection is not live")
	ErrNoCaptureSource   = errors.New("cannot publish without an active capture source")
	ErrNotLive           = errors.New("broadcast is not live")
	ErrNoWatchTarget     = errors.New("no broadcaster is being watched")
)

// Signaler is the outbound half of the relay wire contract as seen by
// the engine.
type Signaler interface {
	Connected() bool
	Announce(domain.BroadcasterID) error
	Watch(domain.BroadcasterID) error
	SendOffer(peer domain.PeerID, sdp webrtc.SessionDescription) error
	SendAnswer(peer domain.PeerID, sdp webrtc.SessionDescription) error
	SendCandidate(peer domain.PeerID, cand webrtc.ICECandidateInit) error
}

// PeerSession is one negotiated connection with one remote peer. It is
// exclusively owned by the engine that created it; the session registry
// only indexes it. Methods are called under the owning engine's lock.
type PeerSession struct {
	peer      domain.PeerID
	role      domain.Role
	state     core.SessionState
	transport core.MediaTransport

	// Candidates queued before the remote description is applied,
	// replayed in arrival order afterwards.
	pending       []webrtc.ICECandidateInit
	remoteApplied bool

	timer *time.Timer
}

func newPeerSession(peer domain.PeerID, role domain.Role, transport core.MediaTransport) *PeerSession {
	return &PeerSession{
		peer:      peer,
		role:      role,
		state:     core.StateIdle,
		transport: transport,
	}
}

func (s *PeerSession) Peer() domain.PeerID      { return s.peer }
func (s *PeerSession) Role() domain.Role        { return s.role }
func (s *PeerSession) State() core.SessionState { return s.state }

// offer generates and sends the local description on the publisher side.
func (s *PeerSession) offer(signal Signaler) error {
	s.state = core.StateOffering
	desc, err := s.transport.CreateAndSetOffer()
	if err != nil {
		return err
	}
	if err := signal.SendOffer(s.peer, *desc); err != nil {
		return err
	}
	s.state = core.StateAwaitingAnswer
	return nil
}

// applyAnswer applies the subscriber's answer and replays any queued
// candidates, completing the publisher-side negotiation.
func (s *PeerSession) applyAnswer(desc webrtc.SessionDescription) error {
	if err := s.transport.ApplyAnswer(desc); err != nil {
		return err
	}
	s.remoteDescriptionApplied()
	s.state = core.StateConnected
	return nil
}

// answerOffer applies the publisher's offer, produces the local answer
// and replays queued candidates. Subscriber side.
func (s *PeerSession) answerOffer(desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.state = core.StateOffering
	answer, err := s.transport.ApplyOfferAndCreateAnswer(desc)
	if err != nil {
		return nil, err
	}
	s.remoteDescriptionApplied()
	s.state = core.StateAwaitingAnswer
	return answer, nil
}

func (s *PeerSession) remoteDescriptionApplied() {
	s.remoteApplied = true
	for _, ci := range s.pending {
		if err := s.transport.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "engine").Str("peer", string(s.peer)).Msg("replaying queued candidate")
		}
	}
	s.pending = nil
}

// addRemoteCandidate applies a candidate, queuing it if the remote
// description is not yet set.
func (s *PeerSession) addRemoteCandidate(ci webrtc.ICECandidateInit) error {
	if s.state == core.StateClosed {
		return nil
	}
	if !s.remoteApplied {
		s.pending = append(s.pending, ci)
		return nil
	}
	return s.transport.AddICECandidate(ci)
}

func (s *PeerSession) markConnected() {
	if s.state != core.StateClosed {
		s.state = core.StateConnected
	}
	s.stopTimer()
}

// Close tears down the transport. Idempotent; safe against duplicate
// "peer gone" notifications.
func (s *PeerSession) Close() {
	if s.state == core.StateClosed {
		return
	}
	s.state = core.StateClosed
	s.stopTimer()
	s.transport.Close()
}

func (s *PeerSession) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
