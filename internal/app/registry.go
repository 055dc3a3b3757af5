package app

import (
	"fmt"
	"sync"

	"github.com/dkeye/Calls/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Conn   core.SignalConnection
	Client string
}

// Registry tracks every live signal connection by session id.
// Iteration order is join order.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	order    []core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

// Add registers a session. A second Add for a live id is rejected and
// the existing entry is left untouched.
func (r *Registry) Add(sid core.SessionID, conn core.SignalConnection, client string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("duplicate session rejected")
		return fmt.Errorf("add %s: %w", sid, core.ErrDuplicateSession)
	}
	r.sessions[sid] = &sessionEntry{Conn: conn, Client: client}
	r.order = append(r.order, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("client", client).Msg("bound session")
	return nil
}

func (r *Registry) Remove(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return
	}
	delete(r.sessions, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Find(sid core.SessionID) (core.SignalConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, nil
	}
	return nil, fmt.Errorf("session %s: %w", sid, core.ErrNotFound)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

type RegSnap struct {
	SID    core.SessionID
	Conn   core.SignalConnection
	Client string
}

// Snapshot returns a copy of all sessions in join order.
func (r *Registry) Snapshot() []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.order))
	for _, sid := range r.order {
		e := r.sessions[sid]
		out = append(out, RegSnap{SID: sid, Conn: e.Conn, Client: e.Client})
	}
	return out
}
