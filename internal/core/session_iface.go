package core

import "github.com/google/uuid"

// SessionID identifies one live transport connection.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
