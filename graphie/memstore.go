package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory GraphStore for local development and tests. It is
// only selected through an explicit config flag; production runs use Neo4j.
// Sessions are stored as deep copies so callers observe real persistence
// boundaries.
type MemStore struct {
	mu       sync.RWMutex
	steps    map[string]Step
	edges    map[string][]Edge
	sessions map[string]*Session
}

func NewMemStore() *MemStore {
	return &MemStore{
		steps:    make(map[string]Step),
		edges:    make(map[string][]Edge),
		sessions: make(map[string]*Session),
	}
}

func (m *MemStore) GetStep(ctx context.Context, id string) (Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	step, ok := m.steps[id]
	if !ok {
		return Step{}, fmt.Errorf("step %q: %w", id, ErrNotFound)
	}
	return step, nil
}

func (m *MemStore) OutgoingEdges(ctx context.Context, stepID string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Edge(nil), m.edges[stepID]...), nil
}

func (m *MemStore) UpsertStep(ctx context.Context, step Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.ID] = step
	return nil
}

func (m *MemStore) UpsertEdge(ctx context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.edges[edge.From]
	for i, e := range existing {
		if e.To == edge.To {
			existing[i] = edge
			return nil
		}
	}
	m.edges[edge.From] = append(existing, edge)
	return nil
}

func (m *MemStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %q already exists", s.ID)
	}
	copied, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = copied
	return nil
}

func (m *MemStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return cloneSession(s)
}

func (m *MemStore) SaveSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.sessions[s.ID] = copied
	return nil
}

func (m *MemStore) Close(ctx context.Context) error {
	return nil
}

func cloneSession(s *Session) (*Session, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("cloning session %q: %w", s.ID, err)
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cloning session %q: %w", s.ID, err)
	}
	return &out, nil
}
