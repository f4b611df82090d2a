package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

// Registry is a non-owning index of peer sessions keyed by remote peer
// id. The negotiation engine owns the sessions; the registry only
// supports lookup, viewer accounting and bulk teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]core.PeerHandle
	viewers  int
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.PeerID]core.PeerHandle)}
}

func (r *Registry) Bind(peer domain.PeerID, h core.PeerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[peer]; !ok {
		r.viewers++
	}
	r.sessions[peer] = h
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Int("viewers", r.viewers).Msg("bound session")
}

func (r *Registry) Get(peer domain.PeerID) (core.PeerHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[peer]
	return h, ok
}

// Unbind removes the session for peer. Removing an unknown key is a
// no-op; duplicate "peer gone" notifications are possible. The viewer
// count never goes negative.
func (r *Registry) Unbind(peer domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[peer]; !ok {
		return
	}
	delete(r.sessions, peer)
	if r.viewers > 0 {
		r.viewers--
	}
	log.Info().Str("module", "app.registry").Str("peer", string(peer)).Int("viewers", r.viewers).Msg("unbound session")
}

// CloseAll closes every indexed session and resets the viewer count.
// Used on broadcaster stop: afterwards exactly zero sessions remain.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[domain.PeerID]core.PeerHandle)
	r.viewers = 0
	r.mu.Unlock()

	for peer, h := range sessions {
		h.Close()
		log.Info().Str("module", "app.registry").Str("peer", string(peer)).Msg("closed session")
	}
}

func (r *Registry) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewers
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Peers returns a snapshot of the indexed peer ids.
func (r *Registry) Peers() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.sessions))
	for peer := range r.sessions {
		out = append(out, peer)
	}
	return out
}
