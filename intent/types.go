// Package intent converts raw AI output into one of five typed
// response intents. Parsing never panics and never throws: malformed
// payloads come back as a failed ParseResult carrying field-scoped
// error messages and the original text for diagnostics.
package intent

import (
	"github.com/c360studio/flowdraft/flow"
)

// Mode identifies the intent of an AI response.
type Mode string

const (
	// ModeCreate proposes a complete new workflow.
	ModeCreate Mode = "create"
	// ModeEdit proposes a batch of operations against the committed workflow.
	ModeEdit Mode = "edit"
	// ModeClarify asks the user questions before proceeding.
	ModeClarify Mode = "clarify"
	// ModeReject declines the request with a reason.
	ModeReject Mode = "reject"
	// ModeRespond is free-form conversational content.
	ModeRespond Mode = "respond"
)

// IsValid returns true for one of the five known modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeCreate, ModeEdit, ModeClarify, ModeReject, ModeRespond:
		return true
	default:
		return false
	}
}

// Response is the classified form of an AI reply. Mode selects which
// of the payload fields is populated.
type Response struct {
	Mode Mode `json:"mode"`

	Create  *CreatePayload  `json:"create,omitempty"`
	Edit    *EditPayload    `json:"edit,omitempty"`
	Clarify *ClarifyPayload `json:"clarify,omitempty"`
	Reject  *RejectPayload  `json:"reject,omitempty"`
	Respond *RespondPayload `json:"respond,omitempty"`
}

// CreatePayload carries a proposed new workflow. IDs inside the
// workflow are optional; normalization fills them in later.
type CreatePayload struct {
	Workflow    *flow.Flow `json:"workflow"`
	Message     string     `json:"message,omitempty"`
	Assumptions []string   `json:"assumptions,omitempty"`
}

// EditPayload carries an operation batch against the committed
// workflow.
type EditPayload struct {
	Operations  []flow.Operation `json:"operations"`
	Message     string           `json:"message,omitempty"`
	Assumptions []string         `json:"assumptions,omitempty"`

	// Warnings collects non-fatal parser observations, such as
	// unknown operation tags accepted for forward compatibility.
	Warnings []string `json:"-"`
}

// Question is one clarification the AI wants answered.
type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ClarifyPayload asks the user one or more questions.
type ClarifyPayload struct {
	Questions []Question `json:"questions"`
	Context   string     `json:"context,omitempty"`
}

// RejectPayload declines the request.
type RejectPayload struct {
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// RespondPayload is plain conversational content. It is always
// considered well-formed.
type RespondPayload struct {
	Message          string           `json:"message"`
	SuggestedActions []map[string]any `json:"suggestedActions,omitempty"`
}

// ParseResult is the outcome of classifying raw AI output.
type ParseResult struct {
	// Success is false when extraction, syntax, or structural
	// validation failed; Errors then explains why.
	Success bool `json:"success"`

	// Response is the typed intent on success.
	Response *Response `json:"response,omitempty"`

	// Errors holds field-scoped failure messages.
	Errors []string `json:"errors,omitempty"`

	// Raw preserves the original text for diagnostics.
	Raw string `json:"raw,omitempty"`
}
