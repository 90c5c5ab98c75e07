// Package history stores per-session chat turns. Only a bounded recent
// window is ever read back; it conditions the query rewrite stage.
package history

import (
	"context"
	"sync"

	"github.com/hassaanmuzammil/pro-rag/types"
)

// DefaultWindow is the number of recent turns kept per session.
const DefaultWindow = 5

// Store keeps the recent chat turns of a session.
type Store interface {
	// Append adds turns to the session in order.
	Append(ctx context.Context, sessionID string, turns ...types.ChatTurn) error
	// Recent returns up to the window's worth of latest turns, oldest first.
	Recent(ctx context.Context, sessionID string) ([]types.ChatTurn, error)
	// Clear drops the session's history. Clearing an unknown session is a
	// no-op.
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore is the in-process Store used for single-instance deployments
// and tests.
type MemoryStore struct {
	mu       sync.Mutex
	window   int
	sessions map[string][]types.ChatTurn
}

// NewMemoryStore builds a MemoryStore keeping window turns per session.
func NewMemoryStore(window int) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{
		window:   window,
		sessions: make(map[string][]types.ChatTurn),
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...types.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := append(s.sessions[sessionID], turns...)
	if len(kept) > s.window {
		kept = kept[len(kept)-s.window:]
	}
	s.sessions[sessionID] = kept
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, sessionID string) ([]types.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.sessions[sessionID]
	out := make([]types.ChatTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
