package flowauthor

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/flowdraft/flow"
	"github.com/c360studio/flowdraft/intent"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

// AuthorRequestType is the message type for authoring turn requests.
var AuthorRequestType = message.Type{Domain: "flow", Category: "author-request", Version: "v1"}

// ApprovalRequestType is the message type for plan approval decisions.
var ApprovalRequestType = message.Type{Domain: "flow", Category: "approval-request", Version: "v1"}

// AuthorResultType is the message type for turn results.
var AuthorResultType = message.Type{Domain: "flow", Category: "author-result", Version: "v1"}

// AuthorRequest asks for one authoring turn: the user's prompt is sent
// to the model and the typed intent is routed against the session.
type AuthorRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`

	// Prompt is the user's natural-language instruction.
	Prompt string `json:"prompt"`

	// AutoApply commits a successful create or edit immediately
	// instead of parking it as a pending plan for approval.
	AutoApply bool `json:"auto_apply,omitempty"`
}

// Schema implements message.Payload.
func (r *AuthorRequest) Schema() message.Type {
	return AuthorRequestType
}

// Validate implements message.Payload.
func (r *AuthorRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *AuthorRequest) MarshalJSON() ([]byte, error) {
	type Alias AuthorRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *AuthorRequest) UnmarshalJSON(data []byte) error {
	type Alias AuthorRequest
	return json.Unmarshal(data, (*Alias)(r))
}

// ApprovalRequest resolves a previously previewed plan: approve to
// commit it, or decline to discard it.
type ApprovalRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	PlanID    string `json:"plan_id"`
	Approved  bool   `json:"approved"`
}

// Schema implements message.Payload.
func (r *ApprovalRequest) Schema() message.Type {
	return ApprovalRequestType
}

// Validate implements message.Payload.
func (r *ApprovalRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *ApprovalRequest) MarshalJSON() ([]byte, error) {
	type Alias ApprovalRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ApprovalRequest) UnmarshalJSON(data []byte) error {
	type Alias ApprovalRequest
	return json.Unmarshal(data, (*Alias)(r))
}

// Result statuses.
const (
	StatusCompleted       = "completed"
	StatusPendingApproval = "pending_approval"
	StatusRejected        = "rejected"
	StatusFailed          = "failed"
	StatusDiscarded       = "discarded"
)

// AuthorResult is the outcome of one turn or approval decision.
type AuthorResult struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`

	// Mode is the intent the model chose, when one was parsed.
	Mode string `json:"mode,omitempty"`

	// Status is one of completed, pending_approval, rejected, failed,
	// or discarded.
	Status string `json:"status"`

	// Message is the user-facing summary.
	Message string `json:"message,omitempty"`

	// Errors explains a rejected or failed turn.
	Errors []string `json:"errors,omitempty"`

	// Clarifications carries the model's questions for a clarify turn.
	Clarifications []intent.Question `json:"clarifications,omitempty"`

	// Workflow is the committed or previewed document, when one exists.
	Workflow *flow.Flow `json:"workflow,omitempty"`

	// PlanID identifies a pending plan awaiting approval.
	PlanID string `json:"plan_id,omitempty"`

	// SessionVersion is the session version after the turn.
	SessionVersion uint64 `json:"session_version,omitempty"`
}

// Schema implements message.Payload.
func (r *AuthorResult) Schema() message.Type {
	return AuthorResultType
}

// Validate implements message.Payload.
func (r *AuthorResult) Validate() error {
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *AuthorResult) MarshalJSON() ([]byte, error) {
	type Alias AuthorResult
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *AuthorResult) UnmarshalJSON(data []byte) error {
	type Alias AuthorResult
	return json.Unmarshal(data, (*Alias)(r))
}

func init() {
	registrations := []*component.PayloadRegistration{
		{
			Domain:      "flow",
			Category:    "author-request",
			Version:     "v1",
			Description: "Authoring turn request with user prompt",
			Factory:     func() any { return &AuthorRequest{} },
		},
		{
			Domain:      "flow",
			Category:    "approval-request",
			Version:     "v1",
			Description: "Approval decision for a pending plan",
			Factory:     func() any { return &ApprovalRequest{} },
		},
		{
			Domain:      "flow",
			Category:    "author-result",
			Version:     "v1",
			Description: "Turn result with workflow, errors, or clarifications",
			Factory:     func() any { return &AuthorResult{} },
		},
	}
	for _, reg := range registrations {
		if err := component.RegisterPayload(reg); err != nil {
			panic("failed to register flow-author payload: " + err.Error())
		}
	}
}
