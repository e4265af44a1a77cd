package intent

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/flowdraft/flow"
	"github.com/c360studio/flowdraft/llm"
)

// rawResponse mirrors the wire shape before mode dispatch. Fields for
// every mode live side by side; the mode tag decides which are
// required.
type rawResponse struct {
	Mode string `json:"mode"`

	// create
	Workflow json.RawMessage `json:"workflow,omitempty"`

	// edit
	Operations json.RawMessage `json:"operations,omitempty"`

	// clarify
	Questions []Question `json:"questions,omitempty"`
	Context   string     `json:"context,omitempty"`

	// reject
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`

	// shared / respond
	Message          string           `json:"message,omitempty"`
	Assumptions      []string         `json:"assumptions,omitempty"`
	SuggestedActions []map[string]any `json:"suggestedActions,omitempty"`
}

// Parse classifies raw AI output into a typed intent. Input may be
// pure JSON, JSON wrapped in a fenced code block, or prose followed
// by JSON. Every failure mode comes back as a structured result;
// Parse never panics.
func Parse(raw string) *ParseResult {
	jsonText := llm.ExtractJSON(raw)
	if jsonText == "" {
		return failure(raw, "Could not find valid JSON in response")
	}

	var wire rawResponse
	if err := json.Unmarshal([]byte(jsonText), &wire); err != nil {
		return failure(raw, fmt.Sprintf("invalid JSON syntax: %v", err))
	}

	mode := Mode(wire.Mode)
	if !mode.IsValid() {
		if wire.Mode == "" {
			return failure(raw, "mode: required field is missing")
		}
		return failure(raw, fmt.Sprintf("mode: unknown mode %q", wire.Mode))
	}

	resp := &Response{Mode: mode}
	var errs []string

	switch mode {
	case ModeCreate:
		resp.Create, errs = parseCreate(&wire)
	case ModeEdit:
		resp.Edit, errs = parseEdit(&wire)
	case ModeClarify:
		resp.Clarify, errs = parseClarify(&wire)
	case ModeReject:
		resp.Reject, errs = parseReject(&wire)
	case ModeRespond:
		// Free-form conversational payload; always well-formed.
		resp.Respond = &RespondPayload{
			Message:          wire.Message,
			SuggestedActions: wire.SuggestedActions,
		}
	}

	if len(errs) > 0 {
		return &ParseResult{Success: false, Errors: errs, Raw: raw}
	}
	return &ParseResult{Success: true, Response: resp, Raw: raw}
}

// parseCreate validates the create shape: a workflow object with a
// required name and array-typed steps. IDs are explicitly optional at
// this stage; the normalizer assigns them.
func parseCreate(wire *rawResponse) (*CreatePayload, []string) {
	var errs []string

	if len(wire.Workflow) == 0 {
		return nil, []string{"workflow: required field is missing"}
	}

	// Shape probe before the typed decode so mistyped collections
	// report the offending field instead of a generic decode error.
	var shape struct {
		Name       json.RawMessage `json:"name"`
		Steps      json.RawMessage `json:"steps"`
		Milestones json.RawMessage `json:"milestones"`
		Roles      json.RawMessage `json:"assigneePlaceholders"`
	}
	if err := json.Unmarshal(wire.Workflow, &shape); err != nil {
		return nil, []string{fmt.Sprintf("workflow: must be an object: %v", err)}
	}

	var name string
	if len(shape.Name) == 0 || json.Unmarshal(shape.Name, &name) != nil || name == "" {
		errs = append(errs, "workflow.name: required field is missing or not a string")
	}
	if !isJSONArray(shape.Steps) {
		errs = append(errs, "workflow.steps: required field is missing or not an array")
	}
	if len(shape.Milestones) > 0 && !isJSONArray(shape.Milestones) {
		errs = append(errs, "workflow.milestones: must be an array")
	}
	if len(shape.Roles) > 0 && !isJSONArray(shape.Roles) {
		errs = append(errs, "workflow.assigneePlaceholders: must be an array")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	var wf createWorkflow
	if err := json.Unmarshal(wire.Workflow, &wf); err != nil {
		return nil, []string{fmt.Sprintf("workflow: %v", err)}
	}

	f := &flow.Flow{
		FlowID:     wf.FlowID,
		Name:       wf.Name,
		Steps:      wf.Steps,
		Milestones: wf.Milestones,
		Roles:      wf.Roles,
	}
	return &CreatePayload{
		Workflow:    f,
		Message:     wire.Message,
		Assumptions: wire.Assumptions,
	}, nil
}

// createWorkflow accepts the wire names the AI is prompted with;
// assignee placeholders become roles in the document model.
type createWorkflow struct {
	FlowID     string           `json:"flowId,omitempty"`
	Name       string           `json:"name"`
	Steps      []flow.Step      `json:"steps"`
	Milestones []flow.Milestone `json:"milestones,omitempty"`
	Roles      []flow.Role      `json:"assigneePlaceholders,omitempty"`
}

// parseEdit validates the edit shape: an operations array whose known
// entries satisfy their tag-specific required fields. Unknown tags
// pass with a warning, never an error.
func parseEdit(wire *rawResponse) (*EditPayload, []string) {
	if len(wire.Operations) == 0 {
		return nil, []string{"operations: required field is missing"}
	}
	if !isJSONArray(wire.Operations) {
		return nil, []string{"operations: must be an array"}
	}

	var ops []flow.Operation
	if err := json.Unmarshal(wire.Operations, &ops); err != nil {
		return nil, []string{fmt.Sprintf("operations: %v", err)}
	}

	var errs, warnings []string
	for i, op := range ops {
		if op.Op == "" {
			errs = append(errs, fmt.Sprintf("operations[%d].op: required field is missing", i))
			continue
		}
		if !op.Op.IsKnown() {
			warnings = append(warnings, fmt.Sprintf("operations[%d]: unknown operation %q accepted", i, op.Op))
			continue
		}
		if err := op.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("operations[%d]: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &EditPayload{
		Operations:  ops,
		Message:     wire.Message,
		Assumptions: wire.Assumptions,
		Warnings:    warnings,
	}, nil
}

// parseClarify validates the clarify shape: a non-empty questions
// array with id and text on every entry.
func parseClarify(wire *rawResponse) (*ClarifyPayload, []string) {
	if len(wire.Questions) == 0 {
		return nil, []string{"questions: at least one question is required"}
	}

	var errs []string
	for i, q := range wire.Questions {
		if q.ID == "" {
			errs = append(errs, fmt.Sprintf("questions[%d].id: required field is missing", i))
		}
		if q.Text == "" {
			errs = append(errs, fmt.Sprintf("questions[%d].text: required field is missing", i))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &ClarifyPayload{Questions: wire.Questions, Context: wire.Context}, nil
}

// parseReject validates the reject shape: a reason string.
func parseReject(wire *rawResponse) (*RejectPayload, []string) {
	if wire.Reason == "" {
		return nil, []string{"reason: required field is missing"}
	}
	return &RejectPayload{Reason: wire.Reason, Suggestion: wire.Suggestion}, nil
}

func isJSONArray(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func failure(raw string, msgs ...string) *ParseResult {
	return &ParseResult{Success: false, Errors: msgs, Raw: raw}
}
