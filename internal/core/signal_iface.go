package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is a raw payload as it travels over the signal transport.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a text (control) frame.
	TrySend(Frame) error
	// TrySendBinary queues a binary frame.
	TrySendBinary(Frame) error
	Close()
}

// PublishResult reports fan-out delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []SessionID
}
