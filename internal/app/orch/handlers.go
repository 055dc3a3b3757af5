package orch

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
	"github.com/rs/zerolog/log"
)

func decodeBody[T interface{ Validate() error }](env domain.Envelope) (T, error) {
	var body T
	if err := env.DecodeBody(&body); err != nil {
		return body, fmt.Errorf("%w: %s body: %w", core.ErrParse, env.Type, err)
	}
	if err := body.Validate(); err != nil {
		return body, fmt.Errorf("%w: %s body: %w", core.ErrParse, env.Type, err)
	}
	return body, nil
}

func (o *Orchestrator) handleConnect(sid core.SessionID, _ core.SignalConnection, env domain.Envelope) error {
	req, err := decodeBody[domain.SessionRequest](env)
	if err != nil {
		return err
	}
	id := core.SessionID(req.ID)
	if _, err := o.Registry.Find(id); err != nil {
		return err
	}
	mc, err := o.Peers.Create(id, sid)
	if err != nil {
		return err
	}
	// The target may have closed between Find and Create.
	if _, err := o.Registry.Find(id); err != nil {
		o.Peers.ReleaseHandle(id, mc)
		return err
	}
	o.Metrics.Inc(metrics.PeerCreated)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("id", req.ID).Msg("connect")
	return nil
}

// handleGetPeers answers with every bound peer except the requested id.
// With ReplyToRequestID the answer goes to the session named in the body.
func (o *Orchestrator) handleGetPeers(sid core.SessionID, from core.SignalConnection, env domain.Envelope) error {
	req, err := decodeBody[domain.SessionRequest](env)
	if err != nil {
		return err
	}
	id := core.SessionID(req.ID)

	dst := from
	if o.PeersReplyTo == ReplyToRequestID {
		if dst, err = o.Registry.Find(id); err != nil {
			return err
		}
		if id != sid {
			log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("target", req.ID).Msg("getPeers reply sent to another session")
		}
	}

	handles := o.Peers.SnapshotExcept(id)
	peers := make([]domain.PeerInfo, 0, len(handles))
	for _, mc := range handles {
		peers = append(peers, mc.Info())
	}
	b, err := json.Marshal(peers)
	if err != nil {
		return err
	}
	if err := dst.TrySend(b); err != nil {
		return fmt.Errorf("getPeers reply to %s: %w", req.ID, err)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("id", req.ID).Int("peers", len(peers)).Msg("getPeers")
	return nil
}

func (o *Orchestrator) handleIce(sid core.SessionID, _ core.SignalConnection, env domain.Envelope) error {
	req, err := decodeBody[domain.IceRequest](env)
	if err != nil {
		return err
	}
	if err := o.Peers.ApplyRemoteCandidate(core.SessionID(req.ID), *req.IceCandidate); err != nil {
		return err
	}
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("id", req.ID).Msg("ice")
	return nil
}

func (o *Orchestrator) handleConsume(core.SessionID, core.SignalConnection, domain.Envelope) error {
	return fmt.Errorf("consume: %w", core.ErrNotImplemented)
}

func (o *Orchestrator) handleConsumerIce(core.SessionID, core.SignalConnection, domain.Envelope) error {
	return fmt.Errorf("consumer_ice: %w", core.ErrNotImplemented)
}
