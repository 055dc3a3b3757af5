package orch

import (
	"encoding/json"

	"github.com/dkeye/Calls/internal/app"
	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PeersReplyTarget selects who receives a getPeers answer.
type PeersReplyTarget int

const (
	// ReplyToRequestID sends the list to the session named in the request body,
	// which may be any live session.
	ReplyToRequestID PeersReplyTarget = iota
	// ReplyToSender sends the list back over the requesting connection.
	ReplyToSender
)

// Orchestrator receives transport events and mutates the shared registries.
// All methods are safe to call from many connection goroutines.
type Orchestrator struct {
	Registry *app.Registry
	Peers    *app.PeerRegistry
	Policy   app.Policy
	Errors   ErrorHandler
	Metrics  *metrics.Metrics

	PeersReplyTo  PeersReplyTarget
	AnnounceLeave bool
}

// OnOpen registers a freshly accepted connection and tells it its id.
func (o *Orchestrator) OnOpen(sid core.SessionID, conn core.SignalConnection, client string) error {
	if err := o.Registry.Add(sid, conn, client); err != nil {
		return err
	}
	o.Metrics.Inc(metrics.SessionOpened)

	b, err := json.Marshal(string(sid))
	if err != nil {
		return err
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send assigned id")
	}
	return nil
}

// OnClose drops the session and releases every peer connection bound to it
// or created by it. Remove runs before Release so a concurrent connect for
// sid either lands before the release or sees the session gone.
func (o *Orchestrator) OnClose(sid core.SessionID, reason string) {
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("reason", reason).Msg("connection closed")
	o.Registry.Remove(sid)
	o.Metrics.Inc(metrics.SessionClosed)
	if o.Peers != nil {
		o.Metrics.Add(metrics.PeerReleased, uint64(o.Peers.Release(sid)))
	}
	if !o.AnnounceLeave {
		return
	}

	b, err := json.Marshal(domain.NewUserLeft(string(sid)))
	if err != nil {
		return
	}
	for _, snap := range o.Registry.Snapshot() {
		if err := snap.Conn.TrySend(b); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("dst_sid", string(snap.SID)).Msg("userLeft not delivered")
		}
	}
}

// OnBinary relays a raw frame to every other live connection, in join order.
// The sender is skipped by connection identity.
func (o *Orchestrator) OnBinary(sid core.SessionID, from core.SignalConnection, data core.Frame) core.PublishResult {
	o.Metrics.Inc(metrics.BinaryReceived)
	res := core.PublishResult{}
	for _, snap := range o.Registry.Snapshot() {
		if snap.Conn == from {
			continue
		}
		if err := snap.Conn.TrySendBinary(data); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("from", string(sid)).Str("dst_sid", string(snap.SID)).Msg("relay send failed")
			res.Dropped = append(res.Dropped, snap.SID)
			o.onBackPressure(snap, err)
			continue
		}
		res.SendTo++
	}
	o.Metrics.Add(metrics.BinaryDelivered, uint64(res.SendTo))
	o.Metrics.Add(metrics.BinaryDropped, uint64(len(res.Dropped)))
	log.Debug().Str("module", "orch").Str("from", string(sid)).Int("len", len(data)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (o *Orchestrator) onBackPressure(snap app.RegSnap, err error) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(snap.SID, err) {
	case app.KickMember:
		log.Info().Str("module", "orch").Str("sid", string(snap.SID)).Msg("kicking slow session")
		snap.Conn.Close()
	case app.NoAction:
	}
}
