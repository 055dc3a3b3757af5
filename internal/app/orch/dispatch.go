package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
	"github.com/rs/zerolog/log"
)

type handlerFunc func(o *Orchestrator, sid core.SessionID, from core.SignalConnection, env domain.Envelope) error

var handlers = map[domain.MessageType]handlerFunc{
	domain.MessageConnect:     (*Orchestrator).handleConnect,
	domain.MessageGetPeers:    (*Orchestrator).handleGetPeers,
	domain.MessageICE:         (*Orchestrator).handleIce,
	domain.MessageConsume:     (*Orchestrator).handleConsume,
	domain.MessageConsumerICE: (*Orchestrator).handleConsumerIce,
}

// OnControl classifies one control message and runs its handler.
// Failures never reach the caller; they go to the configured ErrorHandler.
func (o *Orchestrator) OnControl(sid core.SessionID, from core.SignalConnection, data []byte) {
	o.Metrics.Inc(metrics.ControlReceived)
	msgType, err := o.dispatch(sid, from, data)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrNotImplemented):
		o.Metrics.Inc(metrics.HandlerIgnored)
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("type", msgType).Msg("message ignored")
	default:
		o.Metrics.Inc(metrics.ControlFailed)
		o.Metrics.Inc(metrics.ControlFailed + "_" + core.ErrorKind(err))
		o.errorHandler().HandleError(sid, from, msgType, err)
	}
}

func (o *Orchestrator) dispatch(sid core.SessionID, from core.SignalConnection, data []byte) (msgType string, err error) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return "", fmt.Errorf("%w: envelope: %w", core.ErrParse, err)
	}
	msgType = env.Type
	t, err := domain.ParseMessageType(env.Type)
	if err != nil {
		return msgType, fmt.Errorf("%w: %w", core.ErrParse, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panic: %v", t, r)
		}
	}()
	return msgType, handlers[t](o, sid, from, env)
}

func (o *Orchestrator) errorHandler() ErrorHandler {
	if o.Errors == nil {
		return LogErrors{}
	}
	return o.Errors
}
