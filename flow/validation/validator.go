// Package validation provides semantic validation for workflow
// documents. The router consults it after every create or edit and
// treats an invalid result as a hard rejection of the whole mutation.
package validation

import (
	"fmt"

	"github.com/c360studio/flowdraft/flow"
)

// Mode selects how strictly documents are checked.
type Mode string

const (
	// ModeStrict is used for user-authored documents.
	ModeStrict Mode = "STRICT"

	// ModeLenient is used for AI-generated documents. It tolerates
	// step kinds the static configuration does not recognize, since
	// such kinds may still be legitimate platform capabilities.
	ModeLenient Mode = "LENIENT"
)

// maxBranchDepth is how deep branch/decision nesting may go. The
// normalizer only recurses one level into paths and outcomes, so
// deeper trees would escape ID repair.
const maxBranchDepth = 1

// Error is a single validation violation, scoped to a document path.
type Error struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e Error) String() string {
	return e.Path + ": " + e.Message
}

// Result is the outcome of validating a document.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Error `json:"errors,omitempty"`
}

// Messages renders the violations as "path: message" strings.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}
	return out
}

// Validator validates workflow documents.
type Validator struct{}

// NewValidator creates a document validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a flow against the structural and referential rules
// of the platform. Strict mode additionally rejects unknown step
// kinds.
func (v *Validator) Validate(f *flow.Flow, mode Mode) *Result {
	result := &Result{Valid: true}
	if f == nil {
		result.fail("flow", "document is missing")
		return result
	}

	if f.Name == "" {
		result.fail("name", "workflow name is required")
	}
	if f.FlowID == "" {
		result.fail("flowId", "flow ID is required")
	}

	topLevel := make(map[string]bool, len(f.Steps))
	for _, s := range f.Steps {
		topLevel[s.StepID] = true
	}

	seen := newIDSet()
	for i, s := range f.Steps {
		v.validateStep(result, &s, fmt.Sprintf("steps[%d]", i), mode, seen, 0)
	}

	for i, m := range f.Milestones {
		path := fmt.Sprintf("milestones[%d]", i)
		if m.MilestoneID == "" {
			result.fail(path+".milestoneId", "milestone ID is required")
		} else {
			seen.add(result, path+".milestoneId", m.MilestoneID)
		}
		if m.Name == "" {
			result.fail(path+".name", "milestone name is required")
		}
		// Milestones anchor only on the top-level step sequence.
		if m.AfterStepID != "" && !topLevel[m.AfterStepID] {
			result.fail(path+".afterStepId",
				fmt.Sprintf("anchor step %q is not a top-level step", m.AfterStepID))
		}
	}

	roleIDs := make(map[string]bool, len(f.Roles))
	for i, r := range f.Roles {
		path := fmt.Sprintf("roles[%d]", i)
		if r.RoleID == "" {
			result.fail(path+".roleId", "role ID is required")
		} else {
			seen.add(result, path+".roleId", r.RoleID)
			roleIDs[r.RoleID] = true
		}
	}

	v.validateRoleRefs(result, f.Steps, "steps", roleIDs)

	return result
}

func (v *Validator) validateStep(result *Result, s *flow.Step, path string, mode Mode, seen *idSet, depth int) {
	if s.StepID == "" {
		result.fail(path+".stepId", "step ID is required")
	} else {
		seen.add(result, path+".stepId", s.StepID)
	}

	if s.Type == "" {
		result.fail(path+".type", "step type is required")
	} else if mode == ModeStrict && !s.Type.IsKnown() {
		result.fail(path+".type", fmt.Sprintf("unknown step type %q", s.Type))
	}

	if len(s.Paths) > 0 && s.Type != flow.StepTypeBranch {
		result.fail(path+".paths", "only branch steps carry paths")
	}
	if len(s.Outcomes) > 0 && s.Type != flow.StepTypeDecision {
		result.fail(path+".outcomes", "only decision steps carry outcomes")
	}

	if s.Type == flow.StepTypeBranch && len(s.Paths) == 0 {
		result.fail(path+".paths", "branch step requires at least one path")
	}
	if s.Type == flow.StepTypeDecision && len(s.Outcomes) == 0 {
		result.fail(path+".outcomes", "decision step requires at least one outcome")
	}

	if s.Type.HasNestedSteps() && depth >= maxBranchDepth {
		result.fail(path, fmt.Sprintf("branch nesting deeper than %d level is not supported", maxBranchDepth))
		return
	}

	for i := range s.Paths {
		p := &s.Paths[i]
		childPath := fmt.Sprintf("%s.paths[%d]", path, i)
		if p.PathID == "" {
			result.fail(childPath+".pathId", "path ID is required")
		} else {
			seen.add(result, childPath+".pathId", p.PathID)
		}
		for j := range p.Steps {
			v.validateStep(result, &p.Steps[j], fmt.Sprintf("%s.steps[%d]", childPath, j), mode, seen, depth+1)
		}
	}

	for i := range s.Outcomes {
		o := &s.Outcomes[i]
		childPath := fmt.Sprintf("%s.outcomes[%d]", path, i)
		if o.OutcomeID == "" {
			result.fail(childPath+".outcomeId", "outcome ID is required")
		} else {
			seen.add(result, childPath+".outcomeId", o.OutcomeID)
		}
		for j := range o.Steps {
			v.validateStep(result, &o.Steps[j], fmt.Sprintf("%s.steps[%d]", childPath, j), mode, seen, depth+1)
		}
	}
}

func (v *Validator) validateRoleRefs(result *Result, steps []flow.Step, path string, roleIDs map[string]bool) {
	for i := range steps {
		s := &steps[i]
		childPath := fmt.Sprintf("%s[%d]", path, i)
		if s.RoleID != "" && !roleIDs[s.RoleID] {
			result.fail(childPath+".roleId", fmt.Sprintf("role %q is not declared", s.RoleID))
		}
		for j := range s.Paths {
			v.validateRoleRefs(result, s.Paths[j].Steps, fmt.Sprintf("%s.paths[%d].steps", childPath, j), roleIDs)
		}
		for j := range s.Outcomes {
			v.validateRoleRefs(result, s.Outcomes[j].Steps, fmt.Sprintf("%s.outcomes[%d].steps", childPath, j), roleIDs)
		}
	}
}

func (r *Result) fail(path, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, Error{Path: path, Message: message})
}

// idSet tracks identifiers across the whole tree so collisions
// anywhere — including between step, milestone, role, path and
// outcome IDs — are reported.
type idSet struct {
	ids map[string]string
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[string]string)}
}

func (s *idSet) add(result *Result, path, id string) {
	if firstPath, dup := s.ids[id]; dup {
		result.fail(path, fmt.Sprintf("duplicate ID %q (first used at %s)", id, firstPath))
		return
	}
	s.ids[id] = path
}
