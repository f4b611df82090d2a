package relayclient

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/domain"
	"github.com/livecast/livecast/internal/presence"
)

type stubRosterSource struct{}

func (stubRosterSource) Connected() bool      { return true }
func (stubRosterSource) RequestRoster() error { return nil }

func TestDispatcherRoutesRosterEvents(t *testing.T) {
	tracker := presence.NewTracker(stubRosterSource{}, time.Minute)
	tracker.HandleConnect()
	d := &Dispatcher{Tracker: tracker}

	ctx := context.Background()
	d.handle(ctx, api.Message{Event: api.EventBroadcastersList, Broadcasters: []string{"alice", "bob"}})
	if got := tracker.Snapshot(); !slices.Equal(got, []domain.BroadcasterID{"alice", "bob"}) {
		t.Fatalf("roster = %v, want [alice bob]", got)
	}

	d.handle(ctx, api.Message{Event: api.EventBroadcasterOffline, Broadcaster: "alice"})
	if got := tracker.Snapshot(); !slices.Equal(got, []domain.BroadcasterID{"bob"}) {
		t.Fatalf("roster = %v, want [bob]", got)
	}

	d.handle(ctx, api.Message{Event: api.EventBroadcasterOnline, Broadcaster: "carol"})
	if got := tracker.Snapshot(); !slices.Equal(got, []domain.BroadcasterID{"bob", "carol"}) {
		t.Fatalf("roster = %v, want [bob carol]", got)
	}
}

func TestDispatcherTolerateMissingEngines(t *testing.T) {
	// A roster-only context leaves both engines nil; session events must
	// be dropped without panicking.
	d := &Dispatcher{}
	ctx := context.Background()

	d.handle(ctx, api.Message{Event: api.EventWatcher, PeerID: "peer-1"})
	d.handle(ctx, api.Message{Event: api.EventOffer, PeerID: "peer-1"})
	d.handle(ctx, api.Message{Event: api.EventAnswer, PeerID: "peer-1"})
	d.handle(ctx, api.Message{Event: api.EventCandidate, PeerID: "peer-1"})
	d.handle(ctx, api.Message{Event: api.EventDisconnectPeer, PeerID: "peer-1"})
	d.handle(ctx, api.Message{Event: api.Event("unknown"), PeerID: "peer-1"})
}
