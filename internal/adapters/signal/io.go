package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, peer domain.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump closing")
		cancel()
		ctl.Hub.Unregister(peer)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(peer)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(peer, data)
		}
	}
}

func (ctl *SignalWSController) handleMessage(peer domain.PeerID, data []byte) {
	var msg api.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch msg.Event {
	case api.EventAnnounceBroadcaster:
		id, err := domain.ParseBroadcasterID(msg.Broadcaster)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("peer", string(peer)).Msg("bad announce")
			return
		}
		ctl.Hub.Announce(peer, id)

	case api.EventRequestBroadcasters:
		ctl.Hub.SendRoster(peer)

	case api.EventWatcher:
		if !ctl.Limiter.Allow(peer) {
			log.Warn().Str("module", "signal").Str("peer", string(peer)).Msg("watch request rate limited")
			return
		}
		ctl.Hub.Watch(peer, domain.BroadcasterID(msg.Broadcaster))

	case api.EventOffer, api.EventAnswer, api.EventCandidate:
		ctl.Hub.Forward(peer, msg)

	default:
		log.Warn().Str("module", "signal").Str("event", string(msg.Event)).Msg("unknown signal")
	}
}
