package core

import "errors"

var (
	// ErrParse marks a malformed envelope, body or unknown message type.
	ErrParse = errors.New("parse error")
	// ErrNotFound marks a session or peer handle that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEngineRejected marks a refusal coming from the media engine.
	ErrEngineRejected = errors.New("engine rejected")
	// ErrNotImplemented is returned by handlers that accept but ignore a message.
	ErrNotImplemented = errors.New("not implemented")
	// ErrDuplicateSession is returned when a session id is registered twice.
	ErrDuplicateSession = errors.New("duplicate session")
)

// ErrorKind maps an error to the short name used in logs, metrics and error frames.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEngineRejected):
		return "engine_rejected"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrDuplicateSession):
		return "duplicate_session"
	default:
		return "internal"
	}
}
