package backend

import (
	"context"
	"sync"

	"github.com/roadbook/roadbook/session"
)

// Memory is an in-process Backend for tests. Set FailWith to make
// every commit fail with that error.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*session.DriveSession

	FailWith error
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*session.DriveSession)}
}

// CommitDriveSession implements Backend.
func (m *Memory) CommitDriveSession(_ context.Context, s *session.DriveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

// Committed returns the stored session for id, or nil.
func (m *Memory) Committed(id string) *session.DriveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Count returns the number of committed sessions.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
