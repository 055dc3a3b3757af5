package domain

import (
	"fmt"
	"math"
)

// Candidate is a connectivity candidate as browsers describe it.
// Fields are opaque to the relay and handed to the media engine as is.
type Candidate struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	SDP           string `json:"sdp"`
	ServerURL     string `json:"serverUrl,omitempty"`
}

func (c Candidate) Validate() error {
	if c.SDPMLineIndex < 0 || c.SDPMLineIndex > math.MaxUint16 {
		return fmt.Errorf("sdpMLineIndex %d out of range", c.SDPMLineIndex)
	}
	return nil
}
