package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role identifies the author of a stored turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem is never written by this service but may appear in imported logs.
	RoleSystem Role = "system"
)

// ErrInvalidKey is returned when a session id is empty.
var ErrInvalidKey = errors.New("session id is required")

// Turn is one immutable entry of a session's conversation log.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is an append-only turn log keyed by session.
type Store interface {
	// Append writes one turn with a store-assigned timestamp and sequence number.
	Append(ctx context.Context, sessionID string, role Role, message string) (Turn, error)
	// Load returns every turn of the session oldest first. Unknown sessions
	// yield an empty slice.
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Close() error
}

func normalizeSessionID(sessionID string) (string, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", ErrInvalidKey
	}
	return id, nil
}
