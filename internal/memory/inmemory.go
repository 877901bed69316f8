package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process turn log for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
	now   func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns: make(map[string][]Turn),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Append(ctx context.Context, sessionID string, role Role, message string) (Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return Turn{}, err
	}
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.turns[id]
	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: id,
		Seq:       int64(len(log)) + 1,
		Role:      role,
		Message:   message,
		Timestamp: s.now(),
	}
	// Clock skew must not reorder the log.
	if n := len(log); n > 0 && turn.Timestamp.Before(log[n-1].Timestamp) {
		turn.Timestamp = log[n-1].Timestamp
	}
	s.turns[id] = append(log, turn)
	return turn, nil
}

func (s *InMemoryStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.turns[id]
	out := make([]Turn, len(log))
	copy(out, log)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
