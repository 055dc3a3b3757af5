package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerRegistry binds each session id to at most one engine peer connection.
// Every entry also remembers the session that created it.
type PeerRegistry struct {
	engine core.MediaEngine

	mu    sync.RWMutex
	peers map[core.SessionID]peerEntry
	order []core.SessionID
}

type peerEntry struct {
	mc      core.MediaConnection
	creator core.SessionID
}

func NewPeerRegistry(engine core.MediaEngine) *PeerRegistry {
	return &PeerRegistry{
		engine: engine,
		peers:  make(map[core.SessionID]peerEntry),
	}
}

// Create allocates a new peer connection for id on behalf of creator.
// A previous handle for the same id is replaced and closed.
func (p *PeerRegistry) Create(id, creator core.SessionID) (core.MediaConnection, error) {
	mc, err := p.engine.NewPeerConnection(id)
	if err != nil {
		return nil, fmt.Errorf("create peer connection for %s: %w: %w", id, core.ErrEngineRejected, err)
	}

	p.mu.Lock()
	old, replaced := p.peers[id]
	p.peers[id] = peerEntry{mc: mc, creator: creator}
	if !replaced {
		p.order = append(p.order, id)
	}
	p.mu.Unlock()

	if replaced {
		log.Info().Str("module", "app.peers").Str("sid", string(id)).Str("old_creator", string(old.creator)).Msg("replacing existing peer connection")
		old.mc.Close()
	}
	log.Info().Str("module", "app.peers").Str("sid", string(id)).Str("creator", string(creator)).Msg("peer connection created")
	return mc, nil
}

func (p *PeerRegistry) Get(sid core.SessionID) (core.MediaConnection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.peers[sid]; ok {
		return e.mc, nil
	}
	return nil, fmt.Errorf("peer connection %s: %w", sid, core.ErrNotFound)
}

// ApplyRemoteCandidate hands a candidate to the engine. The engine is not
// touched when sid has no handle.
func (p *PeerRegistry) ApplyRemoteCandidate(sid core.SessionID, c domain.Candidate) error {
	mc, err := p.Get(sid)
	if err != nil {
		return err
	}
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     c.SDP,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := mc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate for %s: %w: %w", sid, core.ErrEngineRejected, err)
	}
	log.Debug().Str("module", "app.peers").Str("sid", string(sid)).Str("server_url", c.ServerURL).Msg("remote candidate applied")
	return nil
}

// Release closes and drops every handle bound to sid or created by sid.
// It returns how many handles were released.
func (p *PeerRegistry) Release(sid core.SessionID) int {
	released := make(map[core.SessionID]core.MediaConnection)
	p.mu.Lock()
	for id, e := range p.peers {
		if id == sid || e.creator == sid {
			released[id] = e.mc
			p.removeLocked(id)
		}
	}
	p.mu.Unlock()

	for id, mc := range released {
		mc.Close()
		log.Info().Str("module", "app.peers").Str("sid", string(id)).Str("owner", string(sid)).Msg("peer connection released")
	}
	return len(released)
}

// ReleaseHandle drops id only while mc is still the handle bound to it.
func (p *PeerRegistry) ReleaseHandle(id core.SessionID, mc core.MediaConnection) bool {
	p.mu.Lock()
	e, ok := p.peers[id]
	ok = ok && e.mc == mc
	if ok {
		p.removeLocked(id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	mc.Close()
	log.Info().Str("module", "app.peers").Str("sid", string(id)).Msg("peer connection released")
	return true
}

func (p *PeerRegistry) removeLocked(id core.SessionID) {
	delete(p.peers, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// SnapshotExcept returns every handle not bound to sid, in creation order.
func (p *PeerRegistry) SnapshotExcept(sid core.SessionID) []core.MediaConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]core.MediaConnection, 0, len(p.order))
	for _, id := range p.order {
		if id == sid {
			continue
		}
		out = append(out, p.peers[id].mc)
	}
	return out
}

// All returns every handle in creation order.
func (p *PeerRegistry) All() []core.MediaConnection {
	return p.SnapshotExcept("")
}

func (p *PeerRegistry) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}
