package session

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Records are copied through JSON on the way in and out so callers
// never share tree memory with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	plans    map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		plans:    make(map[string][]byte),
	}
}

// Get loads a session by ID.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Put writes a session if the stored version matches expectedVersion.
func (s *MemoryStore) Put(_ context.Context, sess *Session, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.sessions[sess.ID]; ok {
		var stored Session
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return ErrVersionConflict
		}
	} else if expectedVersion != 0 {
		return ErrVersionConflict
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	s.sessions[sess.ID] = data
	return nil
}

// GetPlan loads a pending plan.
func (s *MemoryStore) GetPlan(_ context.Context, sessionID, planID string) (*PendingPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.plans[planKey(sessionID, planID)]
	if !ok {
		return nil, ErrNotFound
	}
	var plan PendingPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// PutPlan stores a pending plan.
func (s *MemoryStore) PutPlan(_ context.Context, plan *PendingPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[planKey(plan.SessionID, plan.PlanID)] = data
	return nil
}

// DeletePlan discards a pending plan.
func (s *MemoryStore) DeletePlan(_ context.Context, sessionID, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.plans, planKey(sessionID, planID))
	return nil
}
