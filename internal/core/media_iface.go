package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrAutoplayBlocked is returned by PlaybackElement.Play when the host
// platform refuses unattended playback. It is a distinct state, not a
// failure; recovery requires an explicit user gesture.
var ErrAutoplayBlocked = errors.New("playback blocked by autoplay policy")

// LocalTrack is one capture track bound into outgoing sessions.
// Only the media binding layer may stop or mute it; sessions share it
// by reference.
type LocalTrack interface {
	ID() string
	// Kind is "audio" or "video".
	Kind() string
	// SetEnabled mutes or unmutes the track in place, without
	// renegotiating any session it is bound to.
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// RemoteTrack is an inbound media track received by a subscriber.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// MediaTransport abstracts one peer connection.
type MediaTransport interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close must stop all underlying media resources. Idempotent.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate. The remote
	// description must already be set.
	AddICECandidate(webrtc.ICECandidateInit) error
	// CreateAndSetOffer generates the local description on the
	// publisher side.
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer applies the subscriber's answer on the publisher side.
	ApplyAnswer(webrtc.SessionDescription) error
	// ApplyOfferAndCreateAnswer applies the publisher's offer and
	// generates the local answer on the subscriber side.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	// OnStateChange sets a callback for transport health transitions.
	OnStateChange(func(TransportState))
	// AddLocalTrack binds a capture track into the outgoing track set.
	AddLocalTrack(LocalTrack) error
}

// TransportFactory creates one MediaTransport per peer session, all with
// the same ICE server configuration. Sessions are never rebound onto a
// reused transport.
type TransportFactory interface {
	NewTransport() (MediaTransport, error)
}

// CaptureConstraints is the declared constraint set for capture device
// access. No resolution or frame-rate constraints; platform default.
type CaptureConstraints struct {
	Video      bool
	FacingMode string
	Audio      bool
}

// CaptureSource owns access to the physical capture devices.
type CaptureSource interface {
	// Acquire requests device access. It fails with a descriptive
	// permission or hardware error if denied.
	Acquire(CaptureConstraints) ([]LocalTrack, error)
}

// PlaybackElement is the local playback sink surface (the host
// platform's video element). Dimensions and position are diagnostics
// only, never control inputs.
type PlaybackElement interface {
	// Play attempts playback. Returns an error wrapping
	// ErrAutoplayBlocked when refused by platform policy.
	Play() error
	Pause()
	SetMuted(bool)
	Muted() bool
	// Dimensions reports the current decoded frame size.
	Dimensions() (width, height int)
	// Position reports the current playback position in seconds.
	Position() float64
}
