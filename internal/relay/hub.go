// Package relay implements the signaling relay: it broadcasts small
// control messages between named participants and maintains the set of
// currently announced broadcasters.
package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

type Hub struct {
	mu           sync.RWMutex
	conns        map[domain.PeerID]core.SignalConnection
	broadcasters map[domain.PeerID]domain.BroadcasterID
	byID         map[domain.BroadcasterID]domain.PeerID
	// links records which peers have exchanged signaling, so a
	// departure can be reported to exactly the peers that care.
	links map[domain.PeerID]map[domain.PeerID]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:        make(map[domain.PeerID]core.SignalConnection),
		broadcasters: make(map[domain.PeerID]domain.BroadcasterID),
		byID:         make(map[domain.BroadcasterID]domain.PeerID),
		links:        make(map[domain.PeerID]map[domain.PeerID]struct{}),
	}
}

func (h *Hub) Register(peer domain.PeerID, conn core.SignalConnection) {
	h.mu.Lock()
	if old, ok := h.conns[peer]; ok {
		old.Close()
	}
	h.conns[peer] = conn
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("peer", string(peer)).Msg("peer registered")
}

// Unregister drops the peer. If it was an announced broadcaster,
// everyone learns it went offline; linked peers get disconnectPeer.
func (h *Hub) Unregister(peer domain.PeerID) {
	h.mu.Lock()
	delete(h.conns, peer)
	id, wasBroadcaster := h.broadcasters[peer]
	if wasBroadcaster {
		delete(h.broadcasters, peer)
		delete(h.byID, id)
	}
	linked := h.links[peer]
	delete(h.links, peer)
	for other := range linked {
		if m, ok := h.links[other]; ok {
			delete(m, peer)
		}
	}
	h.mu.Unlock()

	if wasBroadcaster {
		log.Info().Str("module", "relay").Str("broadcaster", string(id)).Msg("broadcaster offline")
		h.broadcastExcept(peer, api.Message{Event: api.EventBroadcasterOffline, Broadcaster: string(id)})
	}
	gone := api.Message{Event: api.EventDisconnectPeer, PeerID: string(peer)}
	for other := range linked {
		h.sendTo(other, gone)
	}
	log.Info().Str("module", "relay").Str("peer", string(peer)).Msg("peer unregistered")
}

// Announce registers peer as a live publisher under id.
func (h *Hub) Announce(peer domain.PeerID, id domain.BroadcasterID) {
	h.mu.Lock()
	h.broadcasters[peer] = id
	h.byID[id] = peer
	h.mu.Unlock()
	log.Info().Str("module", "relay").Str("peer", string(peer)).Str("broadcaster", string(id)).Msg("broadcaster announced")
	h.broadcastExcept(peer, api.Message{Event: api.EventBroadcasterOnline, Broadcaster: string(id)})
}

func (h *Hub) Roster() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.byID))
	for id := range h.byID {
		out = append(out, string(id))
	}
	return out
}

// SendRoster replies with the full snapshot; an empty roster is still a
// valid (empty-list) reply.
func (h *Hub) SendRoster(peer domain.PeerID) {
	roster := h.Roster()
	if roster == nil {
		roster = []string{}
	}
	h.sendTo(peer, api.Message{Event: api.EventBroadcastersList, Broadcasters: roster})
}

// Watch forwards a subscribe request to the named broadcaster, carrying
// the requester's peer id. The empty form is a handshake no-op; an
// unknown target is a logged no-op.
func (h *Hub) Watch(from domain.PeerID, target domain.BroadcasterID) {
	if target == "" {
		return
	}
	h.mu.RLock()
	bcPeer, ok := h.byID[target]
	h.mu.RUnlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("broadcaster", string(target)).Msg("watch for unknown broadcaster")
		return
	}
	h.link(from, bcPeer)
	h.sendTo(bcPeer, api.Message{Event: api.EventWatcher, PeerID: string(from)})
}

// Forward routes offer/answer/candidate to the peer named in the
// message, rewriting PeerID to the sender. Offers from an announced
// broadcaster also carry its broadcaster id so watchers can match the
// offer against their target.
func (h *Hub) Forward(from domain.PeerID, msg api.Message) {
	to := domain.PeerID(msg.PeerID)
	if to == "" {
		return
	}
	out := msg
	out.PeerID = string(from)
	if msg.Event == api.EventOffer {
		h.mu.RLock()
		if id, ok := h.broadcasters[from]; ok {
			out.Broadcaster = string(id)
		}
		h.mu.RUnlock()
	}
	h.link(from, to)
	h.sendTo(to, out)
}

func (h *Hub) link(a, b domain.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.links[a] == nil {
		h.links[a] = make(map[domain.PeerID]struct{})
	}
	if h.links[b] == nil {
		h.links[b] = make(map[domain.PeerID]struct{})
	}
	h.links[a][b] = struct{}{}
	h.links[b][a] = struct{}{}
}

func (h *Hub) broadcastExcept(skip domain.PeerID, msg api.Message) {
	h.mu.RLock()
	peers := make([]domain.PeerID, 0, len(h.conns))
	for peer := range h.conns {
		if peer != skip {
			peers = append(peers, peer)
		}
	}
	h.mu.RUnlock()
	for _, peer := range peers {
		h.sendTo(peer, msg)
	}
}

func (h *Hub) sendTo(peer domain.PeerID, msg api.Message) {
	h.mu.RLock()
	conn, ok := h.conns[peer]
	h.mu.RUnlock()
	if !ok {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal")
		return
	}
	if err := conn.TrySend(data); err != nil {
		// Slow consumers are dropped rather than allowed to stall the
		// relay (backpressure policy).
		log.Warn().Err(err).Str("module", "relay").Str("peer", string(peer)).Msg("send failed, dropping peer")
		conn.Close()
		go h.Unregister(peer)
	}
}
