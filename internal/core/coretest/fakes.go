// Package coretest provides in-memory fakes of the core transport and media interfaces.
package coretest

import (
	"sync"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Conn records every frame queued on it.
type Conn struct {
	mu      sync.Mutex
	text    []core.Frame
	binary  []core.Frame
	closed  bool
	SendErr error
	BinErr  error
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.text = append(c.text, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) TrySendBinary(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.BinErr != nil {
		return c.BinErr
	}
	c.binary = append(c.binary, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Text() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.text...)
}

func (c *Conn) Binary() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.binary...)
}

// Media is a peer connection handle that records applied candidates.
type Media struct {
	Owner  core.SessionID
	AddErr error

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	closed     bool
}

func (m *Media) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddErr != nil {
		return m.AddErr
	}
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *Media) Info() domain.PeerInfo {
	state := "new"
	if m.IsClosed() {
		state = "closed"
	}
	return domain.PeerInfo{
		ID:                string(m.Owner),
		ConnectionState:   state,
		ICEGatheringState: "new",
		SignalingState:    "stable",
	}
}

func (m *Media) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Media) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Media) Candidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.candidates...)
}

// Engine hands out Media handles and remembers them.
type Engine struct {
	NewErr error
	// AddErr is copied into every created handle.
	AddErr error

	mu      sync.Mutex
	created []*Media
}

func (e *Engine) NewPeerConnection(owner core.SessionID) (core.MediaConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewErr != nil {
		return nil, e.NewErr
	}
	m := &Media{Owner: owner, AddErr: e.AddErr}
	e.created = append(e.created, m)
	return m, nil
}

func (e *Engine) Created() []*Media {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Media(nil), e.created...)
}
