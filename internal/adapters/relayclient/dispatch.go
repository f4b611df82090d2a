package relayclient

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/domain"
	"github.com/livecast/livecast/internal/engine"
	"github.com/livecast/livecast/internal/presence"
)

// Dispatcher routes relay events to the local participant context. One
// goroutine consumes the client's event channel, so messages from a
// given peer are handled strictly in arrival order. Either engine may
// be nil when the context plays only one role.
type Dispatcher struct {
	Tracker     *presence.Tracker
	Broadcaster *engine.Broadcaster
	Watcher     *engine.Watcher
}

// Run consumes events until the connection drops or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, c *Client) {
	if d.Tracker != nil {
		d.Tracker.HandleConnect()
	}
	defer func() {
		if d.Tracker != nil {
			d.Tracker.HandleDisconnect()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Events():
			if !ok {
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg api.Message) {
	switch msg.Event {
	case api.EventBroadcastersList:
		if d.Tracker == nil {
			return
		}
		ids := make([]domain.BroadcasterID, 0, len(msg.Broadcasters))
		for _, raw := range msg.Broadcasters {
			ids = append(ids, domain.BroadcasterID(raw))
		}
		d.Tracker.HandleSnapshot(ids)

	case api.EventBroadcasterOnline:
		if d.Tracker != nil {
			d.Tracker.HandleOnline(domain.BroadcasterID(msg.Broadcaster))
		}

	case api.EventBroadcasterOffline:
		if d.Tracker != nil {
			d.Tracker.HandleOffline(domain.BroadcasterID(msg.Broadcaster))
		}

	case api.EventWatcher:
		if d.Broadcaster == nil {
			return
		}
		if err := d.Broadcaster.HandleSubscribe(ctx, domain.PeerID(msg.PeerID)); err != nil {
			log.Error().Err(err).Str("module", "relayclient").Str("peer", msg.PeerID).Msg("subscribe failed")
		}

	case api.EventOffer:
		if d.Watcher == nil || msg.Description == nil {
			return
		}
		if err := d.Watcher.HandleOffer(domain.PeerID(msg.PeerID), domain.BroadcasterID(msg.Broadcaster), *msg.Description); err != nil {
			log.Error().Err(err).Str("module", "relayclient").Str("peer", msg.PeerID).Msg("offer failed")
		}

	case api.EventAnswer:
		if d.Broadcaster == nil || msg.Description == nil {
			return
		}
		if err := d.Broadcaster.HandleAnswer(domain.PeerID(msg.PeerID), *msg.Description); err != nil {
			log.Error().Err(err).Str("module", "relayclient").Str("peer", msg.PeerID).Msg("answer failed")
		}

	case api.EventCandidate:
		if msg.Candidate == nil {
			return
		}
		// Either side may receive candidates; engines drop peers they
		// do not know.
		if d.Broadcaster != nil {
			if err := d.Broadcaster.HandleCandidate(domain.PeerID(msg.PeerID), *msg.Candidate); err != nil {
				log.Error().Err(err).Str("module", "relayclient").Str("peer", msg.PeerID).Msg("candidate failed")
			}
		}
		if d.Watcher != nil {
			if err := d.Watcher.HandleCandidate(domain.PeerID(msg.PeerID), *msg.Candidate); err != nil {
				log.Error().Err(err).Str("module", "relayclient").Str("peer", msg.PeerID).Msg("candidate failed")
			}
		}

	case api.EventDisconnectPeer:
		if d.Broadcaster != nil {
			d.Broadcaster.HandlePeerGone(domain.PeerID(msg.PeerID))
		}
		if d.Watcher != nil {
			d.Watcher.HandlePeerGone(domain.PeerID(msg.PeerID))
		}

	default:
		log.Warn().Str("module", "relayclient").Str("event", string(msg.Event)).Msg("unknown event")
	}
}
