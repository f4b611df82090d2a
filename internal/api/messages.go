// Package api defines the relay wire contract shared by the relay server
// and the peer-side client.
package api

import "github.com/pion/webrtc/v4"

type Event string

const (
	// EventAnnounceBroadcaster registers the sender as a live publisher.
	EventAnnounceBroadcaster = Event("announce-broadcaster")
	// EventRequestBroadcasters asks for a full roster snapshot.
	EventRequestBroadcasters = Event("request-broadcasters")
	// EventBroadcastersList carries the full roster snapshot. Replaces
	// any prior roster state wholesale.
	EventBroadcastersList = Event("broadcasters-list")
	// EventBroadcasterOnline / EventBroadcasterOffline are incremental
	// roster patches.
	EventBroadcasterOnline  = Event("broadcaster-online")
	EventBroadcasterOffline = Event("broadcaster-offline")
	// EventWatcher requests a subscription to a broadcaster. The empty
	// form is a handshake no-op. Relayed to the publisher carrying the
	// subscriber's peer id.
	EventWatcher = Event("watcher")
	// EventOffer / EventAnswer / EventCandidate route SDP and ICE
	// between two named peers. The relay rewrites PeerID to the sender
	// before forwarding.
	EventOffer     = Event("offer")
	EventAnswer    = Event("answer")
	EventCandidate = Event("candidate")
	// EventDisconnectPeer tells a participant a remote peer is gone and
	// its session must be torn down.
	EventDisconnectPeer = Event("disconnectPeer")
)

// Message is the single envelope exchanged with the relay. Exactly one
// payload group is set per event.
type Message struct {
	Event Event `json:"event"`

	// PeerID names the routing target on send, the sender on receipt.
	PeerID string `json:"peerId,omitempty"`

	// Broadcaster carries a broadcaster id for announce, watch requests
	// and incremental roster events. On relayed offers it names the
	// publisher the offer belongs to.
	Broadcaster string `json:"broadcaster,omitempty"`

	// Broadcasters is the full roster snapshot. An empty roster is a
	// present empty list, never an omitted field.
	Broadcasters []string `json:"broadcasters"`

	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}
