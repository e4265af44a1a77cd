package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for session state.
const (
	// BucketSessions holds the committed session records.
	BucketSessions = "FLOWDRAFT_SESSIONS"

	// BucketPlans holds pending plans awaiting approval, keyed
	// {sessionID}.{planID}.
	BucketPlans = "FLOWDRAFT_PLANS"
)

// ErrNotFound indicates the requested session or plan does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict indicates a concurrent mutation won the race.
// The caller should reload the session and retry or reject the turn.
var ErrVersionConflict = errors.New("session version conflict")

// Store persists sessions and pending plans.
type Store interface {
	// Get loads a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Put writes a session. expectedVersion is the version the caller
	// loaded; a mismatch with the stored record returns
	// ErrVersionConflict and writes nothing.
	Put(ctx context.Context, sess *Session, expectedVersion uint64) error

	// GetPlan loads a pending plan, or ErrNotFound.
	GetPlan(ctx context.Context, sessionID, planID string) (*PendingPlan, error)

	// PutPlan stores a pending plan.
	PutPlan(ctx context.Context, plan *PendingPlan) error

	// DeletePlan discards a pending plan. Deleting an absent plan is
	// not an error.
	DeletePlan(ctx context.Context, sessionID, planID string) error
}

// KVStore is a Store backed by NATS JetStream key-value buckets.
type KVStore struct {
	sessions jetstream.KeyValue
	plans    jetstream.KeyValue
}

// NewKVStore creates a KVStore, creating the buckets if needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	sessions, err := getOrCreateBucket(ctx, js, BucketSessions)
	if err != nil {
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	plans, err := getOrCreateBucket(ctx, js, BucketPlans)
	if err != nil {
		return nil, fmt.Errorf("create plans bucket: %w", err)
	}

	return &KVStore{sessions: sessions, plans: plans}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Flowdraft %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// Get loads a session by ID.
func (s *KVStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	entry, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Put writes a session guarded by both the record version and the KV
// revision, so a lost update is reported instead of silently applied.
func (s *KVStore) Put(ctx context.Context, sess *Session, expectedVersion uint64) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	entry, err := s.sessions.Get(ctx, sess.ID)
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("get session: %w", err)
		}
		if expectedVersion != 0 {
			return ErrVersionConflict
		}
		if _, err := s.sessions.Create(ctx, sess.ID, data); err != nil {
			// A concurrent first write created the key between the Get
			// and the Create.
			if errors.Is(err, jetstream.ErrKeyExists) {
				return ErrVersionConflict
			}
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	}

	var stored Session
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}

	if _, err := s.sessions.Update(ctx, sess.ID, data, entry.Revision()); err != nil {
		// A write landing between the Get and this guarded Update shows
		// up as a last-sequence mismatch.
		if isRevisionMismatch(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// GetPlan loads a pending plan.
func (s *KVStore) GetPlan(ctx context.Context, sessionID, planID string) (*PendingPlan, error) {
	entry, err := s.plans.Get(ctx, planKey(sessionID, planID))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}

	var plan PendingPlan
	if err := json.Unmarshal(entry.Value(), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &plan, nil
}

// PutPlan stores a pending plan.
func (s *KVStore) PutPlan(ctx context.Context, plan *PendingPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if _, err := s.plans.Put(ctx, planKey(plan.SessionID, plan.PlanID), data); err != nil {
		return fmt.Errorf("store plan: %w", err)
	}
	return nil
}

// DeletePlan discards a pending plan.
func (s *KVStore) DeletePlan(ctx context.Context, sessionID, planID string) error {
	if err := s.plans.Delete(ctx, planKey(sessionID, planID)); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

func planKey(sessionID, planID string) string {
	return sessionID + "." + planID
}

// isNotFound checks if an error indicates a key was not found.
// ErrKeyDeleted counts: a deleted key has no current value.
func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// isRevisionMismatch reports whether a revision-guarded write lost a
// concurrent race.
func isRevisionMismatch(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
