// Package relayclient is the peer-side websocket connection to the
// signaling relay.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/livecast/livecast/internal/api"
	"github.com/livecast/livecast/internal/domain"
)

const writeDeadline = 5 * time.Second

var ErrClientClosed = errors.New("relay client closed")

// Client dials the relay and exposes incoming messages on a single
// channel, preserving relay arrival order.
type Client struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	events    chan api.Message
	done      chan struct{}
	connected atomic.Bool

	closeMu sync.Mutex
	closed  bool
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:   conn,
		events: make(chan api.Message, 64),
		done:   make(chan struct{}),
	}
	c.connected.Store(true)
	go c.readLoop()
	log.Info().Str("module", "relayclient").Str("url", url).Msg("connected to relay")
	return c, nil
}

func (c *Client) readLoop() {
	defer func() {
		c.connected.Store(false)
		close(c.events)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Error().Err(err).Str("module", "relayclient").Msg("read error")
			return
		}
		var msg api.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "relayclient").Msg("bad message")
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}

// Events delivers relay messages in arrival order. Closed when the
// connection drops.
func (c *Client) Events() <-chan api.Message {
	return c.events
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) send(msg api.Message) error {
	if !c.connected.Load() {
		return ErrClientClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Announce registers the local participant as a live publisher.
func (c *Client) Announce(id domain.BroadcasterID) error {
	return c.send(api.Message{Event: api.EventAnnounceBroadcaster, Broadcaster: string(id)})
}

// RequestRoster asks for a full roster snapshot.
func (c *Client) RequestRoster() error {
	return c.send(api.Message{Event: api.EventRequestBroadcasters})
}

// Watch requests a subscription to the given broadcaster.
func (c *Client) Watch(id domain.BroadcasterID) error {
	return c.send(api.Message{Event: api.EventWatcher, Broadcaster: string(id)})
}

// Handshake is the empty watcher form: a no-op on the relay, used on
// connect.
func (c *Client) Handshake() error {
	return c.send(api.Message{Event: api.EventWatcher})
}

func (c *Client) SendOffer(peer domain.PeerID, sdp webrtc.SessionDescription) error {
	return c.send(api.Message{Event: api.EventOffer, PeerID: string(peer), Description: &sdp})
}

func (c *Client) SendAnswer(peer domain.PeerID, sdp webrtc.SessionDescription) error {
	return c.send(api.Message{Event: api.EventAnswer, PeerID: string(peer), Description: &sdp})
}

func (c *Client) SendCandidate(peer domain.PeerID, cand webrtc.ICECandidateInit) error {
	return c.send(api.Message{Event: api.EventCandidate, PeerID: string(peer), Candidate: &cand})
}

func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.connected.Store(false)
	_ = c.conn.Close()
}
