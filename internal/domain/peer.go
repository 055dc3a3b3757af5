package domain

// PeerInfo is a read-only view of one peer connection handle (no engine fields).
type PeerInfo struct {
	ID                string `json:"id"`
	ConnectionState   string `json:"connectionState"`
	ICEGatheringState string `json:"iceGatheringState"`
	SignalingState    string `json:"signalingState"`
}

// ErrorFrame is sent back to a session when error frames are enabled.
type ErrorFrame struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Request string `json:"request,omitempty"`
}

// UserLeftFrame announces a closed session to the remaining ones.
type UserLeftFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func NewUserLeft(id string) UserLeftFrame {
	return UserLeftFrame{Type: "userLeft", ID: id}
}
