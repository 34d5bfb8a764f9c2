package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/peer"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Dialer opens pion peer connections for peer.Manager.
type Dialer struct {
	Config webrtc.Configuration
	// OnTrack, when set, receives every remote track; otherwise tracks are drained.
	OnTrack func(ctx context.Context, remote domain.ParticipantID, track *webrtc.TrackRemote)
}

func NewDialer(cfg webrtc.Configuration) *Dialer {
	return &Dialer{Config: cfg}
}

func (d *Dialer) Dial(remote domain.ParticipantID, cb peer.Callbacks) (peer.Conn, error) {
	c, err := NewWebRTCConnection(d.Config, remote)
	if err != nil {
		return nil, err
	}
	c.onTrack = d.OnTrack
	c.Start(cb)
	return c, nil
}

// WebRTCConnection is one audio peer connection with trickle ICE.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	ctx    context.Context
	cancel context.CancelFunc

	onTrack   func(ctx context.Context, remote domain.ParticipantID, track *webrtc.TrackRemote)
	closeOnce sync.Once
}

func NewWebRTCConnection(cfg webrtc.Configuration, remote domain.ParticipantID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebRTCConnection{pc: pc, remote: remote, ctx: ctx, cancel: cancel}, nil
}

// Start wires pion events to the manager callbacks. Pion runs its handlers
// on its own goroutines.
func (c *WebRTCConnection) Start(cb peer.Callbacks) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("peer state")
		if cb.StateChange == nil {
			return
		}
		switch s {
		case webrtc.PeerConnectionStateConnected:
			cb.StateChange(peer.Connected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.cancel()
			cb.StateChange(peer.Unconnected)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || cb.Candidate == nil {
			return
		}
		init := cand.ToJSON()
		cb.Candidate(peer.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("track received")
		if c.onTrack != nil {
			c.onTrack(c.ctx, c.remote, track)
			return
		}
		go drain(c.ctx, track)
	})
}

func drain(ctx context.Context, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for ctx.Err() == nil {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer offers one receive-only audio stream.
func (c *WebRTCConnection) CreateOffer() (peer.SessionDescription, error) {
	if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return peer.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return peer.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return peer.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (c *WebRTCConnection) AcceptOffer(offer peer.SessionDescription) (peer.SessionDescription, error) {
	sd, err := toPion(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return peer.SessionDescription{}, err
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return peer.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return peer.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return peer.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (c *WebRTCConnection) AcceptAnswer(answer peer.SessionDescription) error {
	sd, err := toPion(answer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(sd)
}

func (c *WebRTCConnection) AddCandidate(cand peer.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("remote", string(c.remote)).Msg("close error")
			return
		}
		log.Info().Str("module", "rtc").Str("remote", string(c.remote)).Msg("closed")
	})
	return err
}

var errSDPType = errors.New("unexpected sdp type")

func toPion(sd peer.SessionDescription, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(sd.Type)
	if t != want {
		return webrtc.SessionDescription{}, errSDPType
	}
	return webrtc.SessionDescription{Type: t, SDP: sd.SDP}, nil
}

func fromPion(sd webrtc.SessionDescription) peer.SessionDescription {
	return peer.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}
