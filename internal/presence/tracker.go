// Package presence maintains the live broadcaster roster: one
// process-wide tracker reconciling full snapshots with incremental
// online/offline events, plus a periodic resync sweep.
package presence

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/domain"
)

// RosterSource is the relay surface the tracker needs: connection
// liveness and the ability to request a fresh snapshot.
type RosterSource interface {
	Connected() bool
	RequestRoster() error
}

// Update is delivered to subscribers on every roster change. Added and
// Removed are derived for notification only; Roster is authoritative.
type Update struct {
	Roster  []domain.BroadcasterID
	Added   []domain.BroadcasterID
	Removed []domain.BroadcasterID
}

type Tracker struct {
	source RosterSource
	resync time.Duration

	mu        sync.Mutex
	roster    map[domain.BroadcasterID]struct{}
	connected bool
	watched   domain.BroadcasterID

	onWatchedOffline func(domain.BroadcasterID)

	subs    map[int]chan Update
	nextSub int
}

func NewTracker(source RosterSource, resync time.Duration) *Tracker {
	return &Tracker{
		source: source,
		resync: resync,
		roster: make(map[domain.BroadcasterID]struct{}),
		subs:   make(map[int]chan Update),
	}
}

// SetWatchedOfflineFunc registers the watch-session owner's callback,
// fired when the currently watched broadcaster goes offline.
func (t *Tracker) SetWatchedOfflineFunc(fn func(domain.BroadcasterID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWatchedOffline = fn
}

func (t *Tracker) SetWatched(id domain.BroadcasterID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched = id
}

func (t *Tracker) ClearWatched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched = ""
}

// HandleConnect marks the relay live and requests a full snapshot. Only
// that fresh snapshot is authoritative after a reconnect.
func (t *Tracker) HandleConnect() {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	if err := t.source.RequestRoster(); err != nil {
		log.Error().Err(err).Str("module", "presence").Msg("roster request failed")
	}
}

// HandleDisconnect clears the roster. Events that arrive while
// disconnected are no-ops; ordering is not retroactively meaningful.
func (t *Tracker) HandleDisconnect() {
	t.mu.Lock()
	t.connected = false
	removed := make([]domain.BroadcasterID, 0, len(t.roster))
	for id := range t.roster {
		removed = append(removed, id)
	}
	t.roster = make(map[domain.BroadcasterID]struct{})
	t.mu.Unlock()

	log.Info().Str("module", "presence").Int("dropped", len(removed)).Msg("relay disconnected, roster cleared")
	t.publish(Update{Removed: removed})
}

// HandleSnapshot replaces the roster wholesale. The computed delta is
// exposed for logging and notification only and never patches state.
func (t *Tracker) HandleSnapshot(ids []domain.BroadcasterID) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	next := make(map[domain.BroadcasterID]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	var added, removed []domain.BroadcasterID
	for id := range next {
		if _, ok := t.roster[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range t.roster {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	t.roster = next
	roster := t.snapshotLocked()
	t.mu.Unlock()

	log.Info().
		Str("module", "presence").
		Int("count", len(roster)).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Msg("roster snapshot")
	t.publish(Update{Roster: roster, Added: added, Removed: removed})
}

// HandleOnline applies an incremental add. Idempotent.
func (t *Tracker) HandleOnline(id domain.BroadcasterID) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	if _, ok := t.roster[id]; ok {
		t.mu.Unlock()
		return
	}
	t.roster[id] = struct{}{}
	roster := t.snapshotLocked()
	t.mu.Unlock()

	log.Info().Str("module", "presence").Str("broadcaster", string(id)).Msg("broadcaster online")
	t.publish(Update{Roster: roster, Added: []domain.BroadcasterID{id}})
}

// HandleOffline applies an incremental remove. Idempotent; an offline
// event for an unknown id is a no-op. If the removed id is being
// watched, the watch-session owner is notified.
func (t *Tracker) HandleOffline(id domain.BroadcasterID) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	if _, ok := t.roster[id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.roster, id)
	roster := t.snapshotLocked()
	watchedGone := t.watched != "" && t.watched == id
	fn := t.onWatchedOffline
	t.mu.Unlock()

	log.Info().Str("module", "presence").Str("broadcaster", string(id)).Msg("broadcaster offline")
	if watchedGone && fn != nil {
		fn(id)
	}
	t.publish(Update{Roster: roster, Removed: []domain.BroadcasterID{id}})
}

// Run drives the periodic resync sweep: a correctness fallback against
// missed incremental events, never the primary update path.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.resync)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.source.Connected() {
				continue
			}
			if err := t.source.RequestRoster(); err != nil {
				log.Error().Err(err).Str("module", "presence").Msg("resync request failed")
			}
		}
	}
}

func (t *Tracker) Snapshot() []domain.BroadcasterID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []domain.BroadcasterID {
	out := make([]domain.BroadcasterID, 0, len(t.roster))
	for id := range t.roster {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *Tracker) Live(id domain.BroadcasterID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.roster[id]
	return ok
}

// Subscribe registers a roster consumer. Slow consumers drop updates
// rather than block the tracker.
func (t *Tracker) Subscribe() (int, <-chan Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	ch := make(chan Update, 8)
	t.subs[t.nextSub] = ch
	return t.nextSub, ch
}

func (t *Tracker) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) publish(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
