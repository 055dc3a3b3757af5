// Package domain contains wire entities without logic, just meta-data
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrEmptyBody          = errors.New("empty message body")
	ErrEmptyID            = errors.New("empty session id")
)

type MessageType int

const (
	MessageConnect MessageType = iota + 1
	MessageGetPeers
	MessageICE
	MessageConsume
	MessageConsumerICE
)

var messageTypeNames = map[MessageType]string{
	MessageConnect:     "connect",
	MessageGetPeers:    "getPeers",
	MessageICE:         "ice",
	MessageConsume:     "consume",
	MessageConsumerICE: "consumer_ice",
}

func (t MessageType) String() string {
	if s, ok := messageTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// ParseMessageType resolves a wire tag. Matching is exact.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownMessageType, s)
}

// Envelope is the outer shape of every control message.
// JSONContent is usually a string holding encoded JSON; an inline object is accepted too.
type Envelope struct {
	Type        string          `json:"type"`
	JSONContent json.RawMessage `json:"jsonContent"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeBody unpacks JSONContent into v.
func (e Envelope) DecodeBody(v any) error {
	raw := bytes.TrimSpace(e.JSONContent)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ErrEmptyBody
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, v)
}

// NewEnvelope builds a control message with string-encoded content, as clients send it.
func NewEnvelope(t MessageType, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(string(b))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t.String(), JSONContent: content})
}

// SessionRequest is the body of connect and getPeers.
type SessionRequest struct {
	ID string `json:"id"`
}

func (r SessionRequest) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// IceRequest is the body of ice.
type IceRequest struct {
	ID           string     `json:"id"`
	IceCandidate *Candidate `json:"iceCandidate"`
}

func (r IceRequest) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if r.IceCandidate == nil {
		return errors.New("missing iceCandidate")
	}
	return r.IceCandidate.Validate()
}
