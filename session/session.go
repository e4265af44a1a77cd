// Package session holds per-conversation state — the committed
// workflow and turn metadata — and the router that decides whether an
// AI intent previews, commits, or leaves the session untouched.
package session

import (
	"time"

	"github.com/c360studio/flowdraft/flow"
	"github.com/c360studio/flowdraft/intent"
	"github.com/google/uuid"
)

// Metadata is the per-turn bookkeeping attached to a session.
type Metadata struct {
	// WorkflowName mirrors the committed workflow's name for listing
	// without loading the full document.
	WorkflowName string `json:"workflowName,omitempty"`

	// LastMode records the intent of the most recent handled turn.
	LastMode intent.Mode `json:"lastMode,omitempty"`

	// ClarificationsPending is true when the AI asked questions that
	// the user has not yet answered. Cleared by a committed create or
	// edit.
	ClarificationsPending bool `json:"clarificationsPending,omitempty"`
}

// Session is the per-conversation holder of the committed workflow.
// Version increments on every committed mutation so a serializing
// caller can detect and reject stale concurrent writes instead of
// silently racing. The router performs non-atomic read-modify-write;
// callers must process one turn at a time per session.
type Session struct {
	// ID identifies the conversation.
	ID string `json:"id"`

	// Workflow is the committed document, or nil when none exists.
	Workflow *flow.Flow `json:"workflow,omitempty"`

	// Metadata is the turn bookkeeping.
	Metadata Metadata `json:"metadata"`

	// Version is the optimistic concurrency counter.
	Version uint64 `json:"version"`

	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates an empty session.
func New(id string) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{ID: id}
}

// HasWorkflow returns true when a workflow has been committed.
func (s *Session) HasWorkflow() bool {
	return s.Workflow != nil
}

// commit replaces the committed workflow and bumps the version.
// All mutation of session state funnels through here.
func (s *Session) commit(f *flow.Flow, mode intent.Mode) {
	s.Workflow = f
	s.Metadata.WorkflowName = f.Name
	s.Metadata.LastMode = mode
	s.Metadata.ClarificationsPending = false
	s.Version++
	s.UpdatedAt = time.Now()
}

// touch records turn metadata without changing the workflow.
func (s *Session) touch(mode intent.Mode) {
	s.Metadata.LastMode = mode
	s.Version++
	s.UpdatedAt = time.Now()
}

// PendingPlan is a previewed, already-validated workflow awaiting
// user approval. It is owned by the conversation turn, parallel to
// the session's committed document, until approved or discarded.
type PendingPlan struct {
	// PlanID identifies the plan (format: plan-{uuid}).
	PlanID string `json:"planId"`

	// SessionID is the owning conversation.
	SessionID string `json:"sessionId"`

	// Mode is the intent that produced the plan (create or edit).
	Mode intent.Mode `json:"mode"`

	// Workflow is the normalized, validated candidate document.
	// Committing applies exactly this document so the user approves
	// what they saw.
	Workflow *flow.Flow `json:"workflow"`

	// BaseVersion is the session version the plan was derived from.
	// A commit against a newer session version is rejected as stale.
	BaseVersion uint64 `json:"baseVersion"`

	// Message is the AI's accompanying explanation.
	Message string `json:"message,omitempty"`

	// CreatedAt is when the preview was produced.
	CreatedAt time.Time `json:"createdAt"`
}

// NewPendingPlan wraps a validated workflow as a plan for approval.
func NewPendingPlan(sessionID string, mode intent.Mode, f *flow.Flow, baseVersion uint64, message string) *PendingPlan {
	return &PendingPlan{
		PlanID:      "plan-" + uuid.New().String()[:8],
		SessionID:   sessionID,
		Mode:        mode,
		Workflow:    f,
		BaseVersion: baseVersion,
		Message:     message,
		CreatedAt:   time.Now(),
	}
}
