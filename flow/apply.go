package flow

import (
	"encoding/json"
	"fmt"
)

// OperationResult records the outcome of a single operation in a
// batch. Failed operations carry a human-readable reason; unknown
// operation kinds succeed with a warning.
type OperationResult struct {
	Index   int    `json:"index"`
	Op      OpType `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// ApplyResult is the outcome of applying an operation batch.
// Success is true only when every operation succeeded. Final always
// reflects whatever was successfully applied; the caller decides
// whether a partially-successful batch is committed or discarded.
type ApplyResult struct {
	Success bool              `json:"success"`
	Final   *Flow             `json:"finalWorkflow"`
	Results []OperationResult `json:"results"`
}

// Errors collects the failure reasons from the per-operation results.
func (r *ApplyResult) Errors() []string {
	var errs []string
	for _, res := range r.Results {
		if !res.Success {
			errs = append(errs, fmt.Sprintf("operation %d (%s): %s", res.Index, res.Op, res.Error))
		}
	}
	return errs
}

// Apply runs an ordered operation batch against a copy of base.
// Operations apply sequentially against the accumulating working
// copy; a failing operation is recorded and skipped, leaving the
// working copy unchanged for that entry, and later operations apply
// against the best-known-good previous state. The base flow is never
// mutated.
func Apply(base *Flow, ops []Operation) *ApplyResult {
	working := base.Clone()
	result := &ApplyResult{
		Success: true,
		Results: make([]OperationResult, 0, len(ops)),
	}

	for i, op := range ops {
		opResult := OperationResult{Index: i, Op: op.Op, Success: true}

		if !op.Op.IsKnown() {
			opResult.Warning = fmt.Sprintf("unknown operation %q ignored", op.Op)
			result.Results = append(result.Results, opResult)
			continue
		}

		if err := applyOne(working, &op); err != nil {
			opResult.Success = false
			opResult.Error = err.Error()
			result.Success = false
		}
		result.Results = append(result.Results, opResult)
	}

	result.Final = working
	return result
}

func applyOne(f *Flow, op *Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	switch op.Op {
	case OpAddStepAfter:
		return addStepAdjacent(f, *op.AfterStepID, op.Step, true)
	case OpAddStepBefore:
		return addStepAdjacent(f, op.BeforeStepID, op.Step, false)
	case OpRemoveStep:
		return removeStep(f, op.StepID)
	case OpUpdateStep:
		return updateStep(f, op.StepID, op.Updates)
	case OpMoveStep:
		return moveStep(f, op.StepID, op.AfterStepID)
	case OpAddPathStepAfter:
		return addPathStep(f, op, true)
	case OpAddPathStepBefore:
		return addPathStep(f, op, false)
	}
	return fmt.Errorf("unhandled operation %q", op.Op)
}

// addStepAdjacent inserts next to a top-level sibling. Inserting
// adjacent to a nested step goes through the path insert operations.
func addStepAdjacent(f *Flow, anchorID string, step *Step, after bool) error {
	idx := -1
	for i := range f.Steps {
		if f.Steps[i].StepID == anchorID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("step %q not found in top-level steps", anchorID)
	}

	insertAt := idx
	if after {
		insertAt = idx + 1
	}
	f.Steps = insertStep(f.Steps, insertAt, *step)
	return nil
}

// removeStep removes the target wherever it lives in the tree,
// including inside paths and outcomes. It never cascade-deletes:
// milestones anchored on the removed step are left dangling for the
// validator to flag.
func removeStep(f *Flow, stepID string) error {
	siblings, idx := findSiblings(&f.Steps, stepID)
	if siblings == nil {
		return fmt.Errorf("step %q not found", stepID)
	}
	*siblings = append((*siblings)[:idx], (*siblings)[idx+1:]...)
	return nil
}

// updateStep shallow-merges the update payload into the target step.
// Recognized step fields are set directly; everything else merges
// into the step's config map. Paths and outcomes are replaced only
// when the payload names them explicitly. The merge is staged on a
// copy of the step: a rejected key leaves the working document
// untouched, so a failed update is all-or-nothing regardless of map
// iteration order.
func updateStep(f *Flow, stepID string, updates map[string]any) error {
	step := f.FindStep(stepID)
	if step == nil {
		return fmt.Errorf("step %q not found", stepID)
	}

	staged := cloneStep(*step)
	for key, value := range updates {
		switch key {
		case "name":
			if v, ok := value.(string); ok {
				staged.Name = v
			}
		case "type":
			if v, ok := value.(string); ok {
				staged.Type = StepType(v)
			}
		case "milestoneId":
			if v, ok := value.(string); ok {
				staged.MilestoneID = v
			}
		case "roleId":
			if v, ok := value.(string); ok {
				staged.RoleID = v
			}
		case "paths":
			paths, err := convertSlice[Path](value)
			if err != nil {
				return fmt.Errorf("updates.paths: %w", err)
			}
			staged.Paths = paths
		case "outcomes":
			outcomes, err := convertSlice[Outcome](value)
			if err != nil {
				return fmt.Errorf("updates.outcomes: %w", err)
			}
			staged.Outcomes = outcomes
		case "config":
			if nested, ok := value.(map[string]any); ok {
				mergeConfig(&staged, nested)
			}
		case "stepId":
			// Step identity is never rewritten by an update.
		default:
			mergeConfig(&staged, map[string]any{key: value})
		}
	}

	*step = staged
	return nil
}

func mergeConfig(step *Step, values map[string]any) {
	if step.Config == nil {
		step.Config = make(map[string]any, len(values))
	}
	for k, v := range values {
		step.Config[k] = v
	}
}

// moveStep relocates a step within its current sibling list. A nil
// anchor moves it to the front; otherwise it lands immediately after
// the anchor, which must live in the same sibling list. Moves never
// change which branch or outcome a step belongs to.
func moveStep(f *Flow, stepID string, afterStepID *string) error {
	siblings, idx := findSiblings(&f.Steps, stepID)
	if siblings == nil {
		return fmt.Errorf("step %q not found", stepID)
	}

	moved := (*siblings)[idx]
	rest := append((*siblings)[:idx], (*siblings)[idx+1:]...)

	insertAt := 0
	if afterStepID != nil && *afterStepID != "" {
		anchorIdx := -1
		for i := range rest {
			if rest[i].StepID == *afterStepID {
				anchorIdx = i
				break
			}
		}
		if anchorIdx == -1 {
			// Restore the original order before reporting failure.
			*siblings = insertStep(rest, idx, moved)
			return fmt.Errorf("anchor step %q not found in the same sibling list", *afterStepID)
		}
		insertAt = anchorIdx + 1
	}

	*siblings = insertStep(rest, insertAt, moved)
	return nil
}

// addPathStep inserts into a named path of a branch step. With an
// anchor it lands adjacent to that sibling; without one, AFTER
// appends to the path and BEFORE inserts at the front.
func addPathStep(f *Flow, op *Operation, after bool) error {
	branch := f.FindStep(op.BranchStepID)
	if branch == nil {
		return fmt.Errorf("branch step %q not found", op.BranchStepID)
	}

	var path *Path
	for i := range branch.Paths {
		if branch.Paths[i].PathID == op.PathID {
			path = &branch.Paths[i]
			break
		}
	}
	if path == nil {
		return fmt.Errorf("target path %q not found in step %q", op.PathID, op.BranchStepID)
	}

	anchorID := ""
	if after {
		if op.AfterStepID != nil {
			anchorID = *op.AfterStepID
		}
	} else {
		anchorID = op.BeforeStepID
	}

	insertAt := 0
	if after {
		insertAt = len(path.Steps)
	}
	if anchorID != "" {
		idx := -1
		for i := range path.Steps {
			if path.Steps[i].StepID == anchorID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("step %q not found in path %q", anchorID, op.PathID)
		}
		insertAt = idx
		if after {
			insertAt = idx + 1
		}
	}

	path.Steps = insertStep(path.Steps, insertAt, *op.Step)
	return nil
}

// convertSlice re-marshals a loosely-typed update value into a typed
// slice. Update payloads arrive as []any from JSON decoding.
func convertSlice[T any](value any) ([]T, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("not a valid list: %w", err)
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("not a valid list: %w", err)
	}
	return out, nil
}

func insertStep(steps []Step, at int, step Step) []Step {
	steps = append(steps, Step{})
	copy(steps[at+1:], steps[at:])
	steps[at] = step
	return steps
}
