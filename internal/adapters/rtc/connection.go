package rtc

import (
	"sync"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection is the relay side of one participant's peer connection.
type WebRTCConnection struct {
	pc  *webrtc.PeerConnection
	sid core.SessionID

	mu     sync.Mutex
	closed bool
}

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: iceServers,
			},
		},
	}
}

func newWebRTCConnection(pc *webrtc.PeerConnection, sid core.SessionID) *WebRTCConnection {
	c := &WebRTCConnection{pc: pc, sid: sid}
	c.observe()
	return c
}

// observe installs the observer. State changes are logged and go nowhere else.
func (c *WebRTCConnection) observe() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
	})

	c.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Str("gathering_state", s.String()).Msg("ICE gathering")
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Str("signaling_state", s.String()).Msg("Signaling state")
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Str("candidate", cand.String()).Msg("local candidate")
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received, ignored")
	})
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) Info() domain.PeerInfo {
	return domain.PeerInfo{
		ID:                string(c.sid),
		ConnectionState:   c.pc.ConnectionState().String(),
		ICEGatheringState: c.pc.ICEGatheringState().String(),
		SignalingState:    c.pc.SignalingState().String(),
	}
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	}
}

func (c *WebRTCConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
