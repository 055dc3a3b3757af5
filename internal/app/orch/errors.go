package orch

import (
	"encoding/json"

	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrorHandler receives every control message failure.
type ErrorHandler interface {
	HandleError(sid core.SessionID, from core.SignalConnection, msgType string, err error)
}

// LogErrors logs and swallows. The sender gets no reply.
type LogErrors struct{}

func (LogErrors) HandleError(sid core.SessionID, _ core.SignalConnection, msgType string, err error) {
	log.Error().
		Err(err).
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("type", msgType).
		Str("kind", core.ErrorKind(err)).
		Msg("control message failed")
}

// ReplyErrors logs and also sends a typed error frame to the sender.
type ReplyErrors struct {
	Metrics *metrics.Metrics
}

func (r ReplyErrors) HandleError(sid core.SessionID, from core.SignalConnection, msgType string, err error) {
	LogErrors{}.HandleError(sid, from, msgType, err)
	if from == nil {
		return
	}
	b, mErr := json.Marshal(domain.ErrorFrame{
		Type:    "error",
		Error:   core.ErrorKind(err),
		Message: err.Error(),
		Request: msgType,
	})
	if mErr != nil {
		return
	}
	if sErr := from.TrySend(b); sErr != nil {
		log.Warn().Err(sErr).Str("module", "orch").Str("sid", string(sid)).Msg("error frame not delivered")
		return
	}
	r.Metrics.Inc(metrics.ErrorFramesSent)
}
