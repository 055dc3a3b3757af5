package core

import (
	"github.com/dkeye/Calls/internal/domain"
	"github.com/pion/webrtc/v4"
)

// MediaConnection is the handle to one engine-owned peer connection.
type MediaConnection interface {
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// Info reports the owner and the current engine states.
	Info() domain.PeerInfo
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
}

// MediaEngine allocates peer connections bound to the default configuration.
type MediaEngine interface {
	NewPeerConnection(owner SessionID) (MediaConnection, error)
}
