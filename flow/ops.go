package flow

import (
	"encoding/json"
	"fmt"
)

// OpType is the discriminator tag on an edit operation.
type OpType string

const (
	OpAddStepAfter      OpType = "ADD_STEP_AFTER"
	OpAddStepBefore     OpType = "ADD_STEP_BEFORE"
	OpRemoveStep        OpType = "REMOVE_STEP"
	OpUpdateStep        OpType = "UPDATE_STEP"
	OpMoveStep          OpType = "MOVE_STEP"
	OpAddPathStepAfter  OpType = "ADD_PATH_STEP_AFTER"
	OpAddPathStepBefore OpType = "ADD_PATH_STEP_BEFORE"
)

// IsKnown returns true if the op tag is one the patch engine can
// apply. Unknown tags are accepted for forward compatibility and
// skipped with a warning, never treated as fatal.
func (t OpType) IsKnown() bool {
	switch t {
	case OpAddStepAfter, OpAddStepBefore, OpRemoveStep, OpUpdateStep,
		OpMoveStep, OpAddPathStepAfter, OpAddPathStepBefore:
		return true
	default:
		return false
	}
}

// Operation is one edit command applied to a Flow. It is a
// discriminated union over Op; only the fields relevant to the tag
// are set. Raw preserves the original JSON so unknown operation kinds
// round-trip unchanged.
type Operation struct {
	// Op selects the operation kind.
	Op OpType `json:"op"`

	// StepID targets an existing step (remove, update, move).
	StepID string `json:"stepId,omitempty"`

	// AfterStepID anchors an insertion or move. For MOVE_STEP a nil
	// value moves the step to the front of its current sibling list.
	AfterStepID *string `json:"afterStepId,omitempty"`

	// BeforeStepID anchors an insertion before a sibling.
	BeforeStepID string `json:"beforeStepId,omitempty"`

	// BranchStepID and PathID name the branch path for path inserts.
	BranchStepID string `json:"branchStepId,omitempty"`
	PathID       string `json:"pathId,omitempty"`

	// Step is the new step payload for insert operations.
	Step *Step `json:"step,omitempty"`

	// Updates is the shallow-merge payload for UPDATE_STEP.
	Updates map[string]any `json:"updates,omitempty"`

	// Raw is the original operation JSON, kept so unknown operation
	// kinds survive a round trip.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw payload alongside the typed fields.
func (o *Operation) UnmarshalJSON(data []byte) error {
	type alias Operation
	if err := json.Unmarshal(data, (*alias)(o)); err != nil {
		return err
	}
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the preserved raw payload for unknown operation
// kinds so forward-compatible tags are not silently stripped.
func (o Operation) MarshalJSON() ([]byte, error) {
	if !o.Op.IsKnown() && len(o.Raw) > 0 {
		return o.Raw, nil
	}
	type alias Operation
	return json.Marshal(alias(o))
}

// Validate checks the tag-specific required fields. Unknown tags pass
// with no error; the parser reports them as warnings instead.
func (o *Operation) Validate() error {
	switch o.Op {
	case OpAddStepAfter:
		if o.AfterStepID == nil || *o.AfterStepID == "" {
			return fmt.Errorf("afterStepId is required")
		}
		if o.Step == nil {
			return fmt.Errorf("step is required")
		}
	case OpAddStepBefore:
		if o.BeforeStepID == "" {
			return fmt.Errorf("beforeStepId is required")
		}
		if o.Step == nil {
			return fmt.Errorf("step is required")
		}
	case OpRemoveStep:
		if o.StepID == "" {
			return fmt.Errorf("stepId is required")
		}
	case OpUpdateStep:
		if o.StepID == "" {
			return fmt.Errorf("stepId is required")
		}
		if o.Updates == nil {
			return fmt.Errorf("updates is required")
		}
	case OpMoveStep:
		if o.StepID == "" {
			return fmt.Errorf("stepId is required")
		}
	case OpAddPathStepAfter, OpAddPathStepBefore:
		if o.BranchStepID == "" {
			return fmt.Errorf("branchStepId is required")
		}
		if o.PathID == "" {
			return fmt.Errorf("pathId is required")
		}
		if o.Step == nil {
			return fmt.Errorf("step is required")
		}
	}
	return nil
}
