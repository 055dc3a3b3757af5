package app

import (
	"errors"

	"github.com/dkeye/Calls/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a destination that could not take a relayed frame.
type Policy interface {
	OnBackPressure(sid core.SessionID, err error) BackpressureAction
}

// LogOnlyPolicy keeps every connection; the failed frame is simply lost.
type LogOnlyPolicy struct{}

func (LogOnlyPolicy) OnBackPressure(core.SessionID, error) BackpressureAction {
	return NoAction
}

// KickSlowPolicy closes connections whose send queue is full.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackPressure(_ core.SessionID, err error) BackpressureAction {
	if errors.Is(err, core.ErrBackpressure) {
		return KickMember
	}
	return NoAction
}
