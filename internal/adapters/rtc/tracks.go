package rtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/livecast/livecast/internal/core"
)

// LocalRTPTrack wraps a static RTP track with an enabled gate so that
// mute/unmute never requires renegotiation: the track stays bound to
// every session, packets are just dropped while disabled.
type LocalRTPTrack struct {
	rtp     *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool
	stopped atomic.Bool
}

func NewLocalRTPTrack(mimeType, id, streamID string) (*LocalRTPTrack, error) {
	tr, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	t := &LocalRTPTrack{rtp: tr}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalRTPTrack) ID() string   { return t.rtp.ID() }
func (t *LocalRTPTrack) Kind() string { return t.rtp.Kind().String() }

func (t *LocalRTPTrack) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *LocalRTPTrack) Enabled() bool     { return t.enabled.Load() }

func (t *LocalRTPTrack) Stop() { t.stopped.Store(true) }

// WriteRTP forwards one packet from the producer. Packets are silently
// dropped while the track is disabled or stopped.
func (t *LocalRTPTrack) WriteRTP(p *rtp.Packet) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.rtp.WriteRTP(p)
}

type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t remoteTrack) ID() string   { return t.tr.ID() }
func (t remoteTrack) Kind() string { return t.tr.Kind().String() }

// RTPSource is the production capture source: it provisions static RTP
// tracks that an external producer feeds via WriteRTP. Device access is
// owned by the host platform; this process only sees encoded packets.
type RTPSource struct {
	StreamID string
}

func (s RTPSource) Acquire(cc core.CaptureConstraints) ([]core.LocalTrack, error) {
	streamID := s.StreamID
	if streamID == "" {
		streamID = "livecast"
	}
	var out []core.LocalTrack
	if cc.Video {
		t, err := NewLocalRTPTrack(webrtc.MimeTypeVP8, "video", streamID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if cc.Audio {
		t, err := NewLocalRTPTrack(webrtc.MimeTypeOpus, "audio", streamID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
