package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
	"github.com/livecast/livecast/internal/media"
	"github.com/livecast/livecast/internal/presence"
)

type WatchStatus int

const (
	StatusDisconnected WatchStatus = iota
	StatusConnecting
	StatusConnected
)

func (s WatchStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Watcher is the subscriber-side engine: at most one inbound session at
// a time, exclusively holding the playback sink. Switching targets
// always tears the previous session down first.
type Watcher struct {
	signal     Signaler
	transports core.TransportFactory
	sink       *media.Sink
	roster     *presence.Tracker
	timeout    time.Duration

	ctx context.Context

	mu      sync.Mutex
	target  domain.BroadcasterID
	auto    domain.BroadcasterID
	session *PeerSession
	status  WatchStatus
	gen     uint64
	timer   *time.Timer
}

func NewWatcher(ctx context.Context, signal Signaler, transports core.TransportFactory, sink *media.Sink, roster *presence.Tracker, timeout time.Duration) *Watcher {
	w := &Watcher{
		signal:     signal,
		transports: transports,
		sink:       sink,
		roster:     roster,
		timeout:    timeout,
		ctx:        ctx,
	}
	if roster != nil {
		roster.SetWatchedOfflineFunc(w.HandleWatchedOffline)
	}
	return w
}

// Watch starts viewing the given broadcaster. Requires a live relay
// connection and a non-empty id; rejected synchronously otherwise.
// Any previous session is fully torn down first.
func (w *Watcher) Watch(id domain.BroadcasterID) error {
	if id == "" {
		return domain.ErrBroadcasterIDEmpty
	}
	if !w.signal.Connected() {
		return ErrRelayNotConnected
	}

	w.mu.Lock()
	w.resetLocked()
	w.target = id
	w.status = StatusConnecting
	gen := w.gen
	w.mu.Unlock()

	if w.roster != nil {
		w.roster.SetWatched(id)
	}
	if err := w.signal.Watch(id); err != nil {
		w.mu.Lock()
		if w.gen == gen {
			w.status = StatusDisconnected
		}
		w.mu.Unlock()
		return fmt.Errorf("watch request: %w", err)
	}
	w.armTimeout(gen)
	log.Info().Str("module", "engine").Str("broadcaster", string(id)).Msg("watch requested")
	return nil
}

// HandleOffer reacts to the publisher's offer. Offers for anything but
// the current target are stale and dropped.
func (w *Watcher) HandleOffer(peer domain.PeerID, broadcaster domain.BroadcasterID, desc webrtc.SessionDescription) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == "" || broadcaster != w.target {
		log.Warn().Str("module", "engine").Str("broadcaster", string(broadcaster)).Msg("offer for stale target dropped")
		return nil
	}
	if w.session != nil {
		// A fresh offer for the current target supersedes the old
		// session (publisher restarted its side).
		w.teardownSessionLocked()
		w.status = StatusConnecting
	}

	transport, err := w.transports.NewTransport()
	if err != nil {
		return fmt.Errorf("transport create: %w", err)
	}
	sess := newPeerSession(peer, domain.RoleSubscriber, transport)

	transport.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		w.forwardCandidate(sess, ci)
	})
	transport.OnTrack(func(track core.RemoteTrack) {
		go w.handleTrack(sess, track)
	})
	transport.OnStateChange(func(st core.TransportState) {
		if st.Terminal() {
			go w.handleTransportDown(sess)
		}
	})
	if err := transport.Start(w.ctx); err != nil {
		transport.Close()
		return fmt.Errorf("transport start: %w", err)
	}

	answer, err := sess.answerOffer(desc)
	if err != nil {
		transport.Close()
		w.status = StatusDisconnected
		return fmt.Errorf("answer offer from %s: %w", peer, err)
	}
	if err := w.signal.SendAnswer(peer, *answer); err != nil {
		transport.Close()
		w.status = StatusDisconnected
		return fmt.Errorf("send answer to %s: %w", peer, err)
	}

	w.session = sess
	log.Info().Str("module", "engine").Str("peer", string(peer)).Str("broadcaster", string(broadcaster)).Msg("answered offer")
	return nil
}

// HandleCandidate applies a candidate from the publisher. Candidates
// for peers other than the current session are stale and dropped;
// within the session they are queued until the remote description is
// set and replayed in arrival order.
func (w *Watcher) HandleCandidate(peer domain.PeerID, ci webrtc.ICECandidateInit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil || w.session.peer != peer {
		return nil
	}
	return w.session.addRemoteCandidate(ci)
}

// HandlePeerGone tears the session down when the relay reports the
// publisher's socket gone.
func (w *Watcher) HandlePeerGone(peer domain.PeerID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil || w.session.peer != peer {
		return
	}
	w.teardownSessionLocked()
	w.status = StatusDisconnected
	log.Info().Str("module", "engine").Str("peer", string(peer)).Msg("publisher gone")
}

// HandleWatchedOffline reacts to the watched broadcaster leaving the
// roster.
func (w *Watcher) HandleWatchedOffline(id domain.BroadcasterID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != id {
		return
	}
	w.teardownSessionLocked()
	w.status = StatusDisconnected
	log.Info().Str("module", "engine").Str("broadcaster", string(id)).Msg("watched broadcaster went offline")
}

// Refresh is the explicit user-triggered retry: fully release the prior
// tracks and transport, then restart negotiation from the watch
// request. Sessions are never rebound onto a reused transport.
func (w *Watcher) Refresh() error {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	if target == "" {
		return ErrNoWatchTarget
	}
	return w.Watch(target)
}

// Stop leaves the current broadcast and releases the sink.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.resetLocked()
	w.target = ""
	w.mu.Unlock()
	if w.roster != nil {
		w.roster.ClearWatched()
	}
}

// SetAutoTarget arms auto-connect: as soon as the roster confirms the
// id is live and nothing is being watched, watching starts.
func (w *Watcher) SetAutoTarget(id domain.BroadcasterID) {
	w.mu.Lock()
	w.auto = id
	w.mu.Unlock()
}

// HandleRosterUpdate drives auto-connect from presence updates.
func (w *Watcher) HandleRosterUpdate(_ presence.Update) {
	w.mu.Lock()
	auto := w.auto
	idle := w.status == StatusDisconnected && w.session == nil
	w.mu.Unlock()
	if auto == "" || !idle {
		return
	}
	if w.roster == nil || !w.roster.Live(auto) {
		return
	}
	log.Info().Str("module", "engine").Str("broadcaster", string(auto)).Msg("auto-connecting to broadcaster")
	if err := w.Watch(auto); err != nil {
		log.Error().Err(err).Str("module", "engine").Msg("auto-connect failed")
	}
}

func (w *Watcher) Status() WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) Target() domain.BroadcasterID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

func (w *Watcher) handleTrack(sess *PeerSession, track core.RemoteTrack) {
	w.mu.Lock()
	if w.session != sess {
		w.mu.Unlock()
		return
	}
	if err := w.sink.Attach(sess.peer, track); err != nil {
		// Structural violation: the sink belongs to another session.
		w.mu.Unlock()
		log.Error().Err(err).Str("module", "engine").Str("peer", string(sess.peer)).Msg("sink attach rejected")
		return
	}
	sess.markConnected()
	w.status = StatusConnected
	w.stopTimerLocked()
	w.mu.Unlock()

	state := w.sink.AttemptPlayback()
	log.Info().Str("module", "engine").Str("peer", string(sess.peer)).Str("playback", state.String()).Msg("remote track bound")
}

func (w *Watcher) handleTransportDown(sess *PeerSession) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session != sess {
		return
	}
	// No automatic retry: presentation resets, the user must refresh.
	w.teardownSessionLocked()
	w.status = StatusDisconnected
	log.Info().Str("module", "engine").Str("peer", string(sess.peer)).Msg("transport down, session reset")
}

func (w *Watcher) forwardCandidate(sess *PeerSession, ci webrtc.ICECandidateInit) {
	w.mu.Lock()
	current := w.session == sess
	w.mu.Unlock()
	if !current {
		return
	}
	if err := w.signal.SendCandidate(sess.peer, ci); err != nil {
		log.Error().Err(err).Str("module", "engine").Str("peer", string(sess.peer)).Msg("candidate forward failed")
	}
}

// resetLocked invalidates all in-flight work for the previous target.
func (w *Watcher) resetLocked() {
	w.teardownSessionLocked()
	w.status = StatusDisconnected
	w.gen++
}

func (w *Watcher) teardownSessionLocked() {
	w.stopTimerLocked()
	if w.session == nil {
		return
	}
	w.sink.Detach(w.session.peer)
	w.session.Close()
	w.session = nil
}

func (w *Watcher) armTimeout(gen uint64) {
	if w.timeout <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return
	}
	w.stopTimerLocked()
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen != gen || w.status != StatusConnecting {
			return
		}
		log.Warn().Str("module", "engine").Str("broadcaster", string(w.target)).Dur("timeout", w.timeout).Msg("negotiation timed out")
		w.teardownSessionLocked()
		w.status = StatusDisconnected
	})
}

func (w *Watcher) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
