// Package flow provides the Flowdraft workflow document model: a
// tree-shaped business-process definition built from steps, branches,
// decisions, milestones and roles, plus the normalizer and patch
// engine that keep AI-authored documents in canonical form.
package flow

import "encoding/json"

// StepType is the tag identifying a step kind.
type StepType string

const (
	// StepTypeForm is a human-action step that collects structured input.
	StepTypeForm StepType = "FORM"
	// StepTypeApproval is a human-action step requiring sign-off.
	StepTypeApproval StepType = "APPROVAL"
	// StepTypeAutomation is a machine-executed step.
	StepTypeAutomation StepType = "AUTOMATION"
	// StepTypeNotification sends a message to a role.
	StepTypeNotification StepType = "NOTIFICATION"
	// StepTypeBranch splits the flow into parallel conditional paths.
	StepTypeBranch StepType = "BRANCH"
	// StepTypeDecision routes the flow into exactly one outcome.
	StepTypeDecision StepType = "DECISION"
	// StepTypeGoto is a control step that jumps to another step.
	// Goto steps never belong to a milestone.
	StepTypeGoto StepType = "GOTO"
)

// String returns the string representation of the step type.
func (t StepType) String() string {
	return string(t)
}

// IsKnown returns true if the step type is part of the closed set of
// platform step kinds. Unknown types are preserved rather than
// rejected so documents authored against a newer schema round-trip
// unchanged; lenient validation tolerates them.
func (t StepType) IsKnown() bool {
	switch t {
	case StepTypeForm, StepTypeApproval, StepTypeAutomation,
		StepTypeNotification, StepTypeBranch, StepTypeDecision,
		StepTypeGoto:
		return true
	default:
		return false
	}
}

// HasNestedSteps returns true for step kinds that carry nested
// sub-trees (branch paths and decision outcomes).
func (t StepType) HasNestedSteps() bool {
	return t == StepTypeBranch || t == StepTypeDecision
}

// Flow is the root workflow document. Every stepId, milestoneId,
// roleId, pathId and outcomeId is unique across the entire tree,
// including steps nested inside branch paths and decision outcomes.
// Normalize establishes that invariant for AI-authored documents.
type Flow struct {
	// FlowID is the stable document identifier, generated once.
	FlowID string `json:"flowId,omitempty"`

	// Name is the human-readable workflow name.
	Name string `json:"name"`

	// Steps is the ordered top-level step sequence.
	Steps []Step `json:"steps"`

	// Milestones are the ordered phase boundaries over the top-level
	// step sequence. Milestones never apply to nested steps directly;
	// nested steps inherit their parent step's milestone.
	Milestones []Milestone `json:"milestones,omitempty"`

	// Roles are assignee placeholders referenced by steps.
	Roles []Role `json:"roles,omitempty"`
}

// Step is one unit of work in a Flow. Branch and decision steps carry
// nested sub-trees; all other kind-specific configuration lives in
// Config so that unknown step kinds round-trip without loss.
type Step struct {
	// StepID uniquely identifies the step across the whole tree.
	// Optional on AI-authored input; Normalize assigns missing IDs.
	StepID string `json:"stepId,omitempty"`

	// Type is the step kind tag.
	Type StepType `json:"type"`

	// Name is the human-readable step label.
	Name string `json:"name,omitempty"`

	// MilestoneID associates the step with at most one milestone.
	MilestoneID string `json:"milestoneId,omitempty"`

	// RoleID references the assignee placeholder for the step.
	RoleID string `json:"roleId,omitempty"`

	// Config holds kind-specific configuration (form fields,
	// automation targets, goto targets). Updates shallow-merge here.
	Config map[string]any `json:"config,omitempty"`

	// Paths is the ordered path list for branch steps.
	Paths []Path `json:"paths,omitempty"`

	// Outcomes is the ordered outcome list for decision steps.
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Path is one branch of a branch step, holding its own nested step
// sequence guarded by one or more conditions.
type Path struct {
	// PathID uniquely identifies the path across the whole tree.
	PathID string `json:"pathId,omitempty"`

	// Label is the human-readable path name.
	Label string `json:"label,omitempty"`

	// Conditions guard entry into the path.
	Conditions []Condition `json:"conditions,omitempty"`

	// Steps is the nested ordered step sequence.
	Steps []Step `json:"steps"`
}

// Outcome is one branch of a decision step.
type Outcome struct {
	// OutcomeID uniquely identifies the outcome across the whole tree.
	OutcomeID string `json:"outcomeId,omitempty"`

	// Label is the human-readable outcome name.
	Label string `json:"label,omitempty"`

	// Steps is the nested ordered step sequence.
	Steps []Step `json:"steps"`
}

// Condition is a single guard expression on a branch path.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Milestone marks a named phase boundary over the top-level step
// sequence. AfterStepID anchors where the phase begins.
type Milestone struct {
	// MilestoneID uniquely identifies the milestone.
	MilestoneID string `json:"milestoneId,omitempty"`

	// Name is the phase name.
	Name string `json:"name"`

	// AfterStepID anchors the phase boundary after the named
	// top-level step. Empty means the phase starts at the front.
	AfterStepID string `json:"afterStepId,omitempty"`
}

// Role is an assignee placeholder referenced by steps. Roles are not
// ownership-bound to steps; removing a step never removes its role.
type Role struct {
	// RoleID uniquely identifies the role.
	RoleID string `json:"roleId,omitempty"`

	// Name is the role name.
	Name string `json:"name"`
}

// UnmarshalJSON accepts both a single `condition` object and a
// `conditions` list, since AI output uses either form.
func (p *Path) UnmarshalJSON(data []byte) error {
	type alias Path
	aux := struct {
		*alias
		Condition  json.RawMessage `json:"condition,omitempty"`
		Conditions json.RawMessage `json:"conditions,omitempty"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := aux.Conditions
	if len(raw) == 0 {
		raw = aux.Condition
	}
	if len(raw) == 0 {
		return nil
	}

	// A list of conditions is the canonical form; a bare object is
	// wrapped into a single-element list.
	var list []Condition
	if err := json.Unmarshal(raw, &list); err == nil {
		p.Conditions = list
		return nil
	}
	var single Condition
	if err := json.Unmarshal(raw, &single); err != nil {
		return err
	}
	p.Conditions = []Condition{single}
	return nil
}
