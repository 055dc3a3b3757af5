package rtc

import (
	"github.com/dkeye/Calls/internal/core"
	"github.com/pion/webrtc/v4"
)

// Engine is the pion backed core.MediaEngine.
type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewEngine(iceServers []string) *Engine {
	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(),
	}
	return &Engine{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg: DefaultWebRTCConfig(iceServers),
	}
}

func (e *Engine) NewPeerConnection(owner core.SessionID) (core.MediaConnection, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	return newWebRTCConnection(pc, owner), nil
}
