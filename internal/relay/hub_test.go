package relay

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/core"
	"github.com/livecast/livecast/internal/domain"
)

type stubConn struct {
	mu      sync.Mutex
	frames  []api.Message
	sendErr error
	closed  bool
}

func (c *stubConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	var msg api.Message
	if err := json.Unmarshal(f, &msg); err != nil {
		return err
	}
	c.frames = append(c.frames, msg)
	return nil
}

func (c *stubConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubConn) received() []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Message, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *stubConn) lastEvent() api.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return ""
	}
	return c.frames[len(c.frames)-1].Event
}

func register(h *Hub, peer domain.PeerID) *stubConn {
	conn := &stubConn{}
	h.Register(peer, conn)
	return conn
}

func TestAnnounceBroadcastsOnline(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")
	viewer := register(h, "viewer")

	h.Announce("pub", "alice")

	got := viewer.received()
	if len(got) != 1 || got[0].Event != api.EventBroadcasterOnline || got[0].Broadcaster != "alice" {
		t.Fatalf("viewer messages = %v, want broadcaster-online alice", got)
	}
	if len(pub.received()) != 0 {
		t.Fatal("announcer must not receive its own online event")
	}
}

func TestSendRosterSnapshot(t *testing.T) {
	h := NewHub()
	register(h, "pub-a")
	register(h, "pub-b")
	viewer := register(h, "viewer")

	h.SendRoster("viewer")
	got := viewer.received()
	if len(got) != 1 || got[0].Event != api.EventBroadcastersList {
		t.Fatalf("messages = %v, want one broadcasters-list", got)
	}
	if got[0].Broadcasters == nil || len(got[0].Broadcasters) != 0 {
		t.Fatalf("empty roster must be an empty list, got %v", got[0].Broadcasters)
	}

	h.Announce("pub-a", "alice")
	h.Announce("pub-b", "bob")
	h.SendRoster("viewer")

	got = viewer.received()
	roster := got[len(got)-1].Broadcasters
	slices.Sort(roster)
	if !slices.Equal(roster, []string{"alice", "bob"}) {
		t.Fatalf("roster = %v, want [alice bob]", roster)
	}
}

func TestWatchForwardsRequesterID(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")
	register(h, "viewer")
	h.Announce("pub", "alice")

	h.Watch("viewer", "alice")

	got := pub.received()
	if len(got) != 1 || got[0].Event != api.EventWatcher || got[0].PeerID != "viewer" {
		t.Fatalf("publisher messages = %v, want watcher from viewer", got)
	}
}

func TestWatchEmptyTargetIsHandshakeNoop(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")
	register(h, "viewer")
	h.Announce("pub", "alice")

	h.Watch("viewer", "")

	if n := len(pub.received()); n != 0 {
		t.Fatalf("handshake watch must not be forwarded, got %d messages", n)
	}
}

func TestWatchUnknownTargetDropped(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")
	register(h, "viewer")

	h.Watch("viewer", "nobody")

	if n := len(pub.received()); n != 0 {
		t.Fatalf("unknown-target watch must be dropped, got %d messages", n)
	}
}

func TestForwardRewritesSender(t *testing.T) {
	h := NewHub()
	register(h, "pub")
	viewer := register(h, "viewer")
	h.Announce("pub", "alice")

	desc := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}
	h.Forward("pub", api.Message{
		Event:       api.EventOffer,
		PeerID:      "viewer",
		Description: desc,
	})

	got := viewer.received()
	if len(got) != 1 {
		t.Fatalf("expected one forwarded offer, got %d", len(got))
	}
	msg := got[0]
	if msg.PeerID != "pub" {
		t.Fatalf("PeerID = %q, relay must rewrite it to the sender", msg.PeerID)
	}
	if msg.Broadcaster != "alice" {
		t.Fatalf("Broadcaster = %q, offers must carry the sender's broadcaster id", msg.Broadcaster)
	}
	if msg.Description == nil || msg.Description.SDP != "offer" {
		t.Fatalf("description not carried: %+v", msg.Description)
	}
}

func TestForwardAnswerAndCandidate(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")
	register(h, "viewer")

	h.Forward("viewer", api.Message{
		Event:       api.EventAnswer,
		PeerID:      "pub",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"},
	})
	h.Forward("viewer", api.Message{
		Event:     api.EventCandidate,
		PeerID:    "pub",
		Candidate: &webrtc.ICECandidateInit{Candidate: "cand"},
	})

	got := pub.received()
	if len(got) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(got))
	}
	if got[0].Event != api.EventAnswer || got[0].PeerID != "viewer" {
		t.Fatalf("answer = %+v, want rewritten sender viewer", got[0])
	}
	// Answers never get a broadcaster id attached.
	if got[0].Broadcaster != "" {
		t.Fatalf("Broadcaster = %q, want empty on answers", got[0].Broadcaster)
	}
	if got[1].Event != api.EventCandidate || got[1].Candidate == nil || got[1].Candidate.Candidate != "cand" {
		t.Fatalf("candidate = %+v", got[1])
	}
}

func TestForwardWithoutAddresseeDropped(t *testing.T) {
	h := NewHub()
	pub := register(h, "pub")

	h.Forward("pub", api.Message{Event: api.EventOffer})
	if n := len(pub.received()); n != 0 {
		t.Fatalf("unaddressed forward must be dropped, got %d", n)
	}
}

func TestUnregisterBroadcasterNotifies(t *testing.T) {
	h := NewHub()
	register(h, "pub")
	viewer := register(h, "viewer")
	other := register(h, "other")
	h.Announce("pub", "alice")
	h.Watch("viewer", "alice")

	h.Unregister("pub")

	var offline, gone bool
	for _, msg := range viewer.received() {
		switch msg.Event {
		case api.EventBroadcasterOffline:
			if msg.Broadcaster == "alice" {
				offline = true
			}
		case api.EventDisconnectPeer:
			if msg.PeerID == "pub" {
				gone = true
			}
		}
	}
	if !offline {
		t.Fatal("linked viewer never saw broadcaster-offline")
	}
	if !gone {
		t.Fatal("linked viewer never saw disconnectPeer")
	}

	// The unlinked peer sees the roster change but no peer-level event.
	for _, msg := range other.received() {
		if msg.Event == api.EventDisconnectPeer {
			t.Fatal("unlinked peer must not receive disconnectPeer")
		}
	}
	if other.lastEvent() != api.EventBroadcasterOffline {
		t.Fatalf("unlinked peer messages = %v, want broadcaster-offline", other.received())
	}

	if len(h.Roster()) != 0 {
		t.Fatalf("roster = %v, want empty", h.Roster())
	}
}

func TestRegisterReplacesConnection(t *testing.T) {
	h := NewHub()
	first := register(h, "peer")
	second := register(h, "peer")

	if !first.isClosed() {
		t.Fatal("stale connection must be closed on re-register")
	}
	h.SendRoster("peer")
	if len(second.received()) != 1 {
		t.Fatal("fresh connection must receive messages")
	}
	if len(first.received()) != 0 {
		t.Fatal("stale connection must not receive messages")
	}
}

func TestBackpressureDropsPeer(t *testing.T) {
	h := NewHub()
	slow := register(h, "slow")
	slow.sendErr = errors.New("send queue full")
	register(h, "pub")

	h.Announce("pub", "alice")

	if !slow.isClosed() {
		t.Fatal("slow consumer must be closed")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		_, present := h.conns["slow"]
		h.mu.RUnlock()
		if !present {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("slow consumer never unregistered")
}
