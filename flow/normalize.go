package flow

import (
	"fmt"

	"github.com/google/uuid"
)

// idAllocator hands out sequential identifiers during a normalization
// walk. A single allocator is threaded through the entire tree so the
// step counter is shared between top-level and nested steps, which is
// what guarantees tree-wide uniqueness of generated IDs. Counters
// start past the highest existing numeric suffix so a second pass
// over an already-normalized document assigns nothing new.
type idAllocator struct {
	step      int
	milestone int
	role      int
	path      int
	outcome   int
}

func (a *idAllocator) nextStep() string {
	a.step++
	return fmt.Sprintf("step_%d", a.step)
}

func (a *idAllocator) nextMilestone() string {
	a.milestone++
	return fmt.Sprintf("ms_%d", a.milestone)
}

func (a *idAllocator) nextRole() string {
	a.role++
	return fmt.Sprintf("role_%d", a.role)
}

func (a *idAllocator) nextPath() string {
	a.path++
	return fmt.Sprintf("path_%d", a.path)
}

func (a *idAllocator) nextOutcome() string {
	a.outcome++
	return fmt.Sprintf("outcome_%d", a.outcome)
}

// seed advances each counter past the highest numeric suffix already
// present in the document, so freshly assigned IDs never collide with
// IDs the AI (or a previous normalization) chose.
func (a *idAllocator) seed(f *Flow) {
	for _, m := range f.Milestones {
		bumpCounter(&a.milestone, m.MilestoneID, "ms_")
	}
	for _, r := range f.Roles {
		bumpCounter(&a.role, r.RoleID, "role_")
	}
	a.seedSteps(f.Steps)
}

func (a *idAllocator) seedSteps(steps []Step) {
	for _, s := range steps {
		bumpCounter(&a.step, s.StepID, "step_")
		for _, p := range s.Paths {
			bumpCounter(&a.path, p.PathID, "path_")
			a.seedSteps(p.Steps)
		}
		for _, o := range s.Outcomes {
			bumpCounter(&a.outcome, o.OutcomeID, "outcome_")
			a.seedSteps(o.Steps)
		}
	}
}

func bumpCounter(counter *int, id, prefix string) {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return
	}
	n := 0
	for _, c := range id[len(prefix):] {
		if c < '0' || c > '9' {
			return
		}
		n = n*10 + int(c-'0')
	}
	if n > *counter {
		*counter = n
	}
}

// Normalize repairs an AI-authored or freshly edited flow in place:
// missing IDs are synthesized, absent collections are coerced to
// empty, and default milestone associations are filled in. It is
// idempotent — a second call changes nothing.
//
// AI-authored documents are encouraged to omit bookkeeping fields;
// this is the single place that guarantees the tree-wide ID
// uniqueness invariant before a document is validated or committed.
func Normalize(f *Flow) {
	if f == nil {
		return
	}

	if f.FlowID == "" {
		f.FlowID = NewFlowID()
	}
	if f.Steps == nil {
		f.Steps = []Step{}
	}
	if f.Milestones == nil {
		f.Milestones = []Milestone{}
	}
	if f.Roles == nil {
		f.Roles = []Role{}
	}

	alloc := &idAllocator{}
	alloc.seed(f)

	for i := range f.Milestones {
		if f.Milestones[i].MilestoneID == "" {
			f.Milestones[i].MilestoneID = alloc.nextMilestone()
		}
	}

	// The first milestone is the default phase for top-level steps
	// that declare none. Goto steps are control flow, not work, and
	// never belong to a phase.
	defaultMilestoneID := ""
	if len(f.Milestones) > 0 {
		defaultMilestoneID = f.Milestones[0].MilestoneID
	}

	for i := range f.Steps {
		step := &f.Steps[i]
		if step.StepID == "" {
			step.StepID = alloc.nextStep()
		}
		if defaultMilestoneID != "" && step.MilestoneID == "" && step.Type != StepTypeGoto {
			step.MilestoneID = defaultMilestoneID
		}
		normalizeNested(step, alloc)
	}

	for i := range f.Roles {
		if f.Roles[i].RoleID == "" {
			f.Roles[i].RoleID = alloc.nextRole()
		}
	}
}

// normalizeNested assigns path/outcome IDs and walks one level into
// each nested step list. Nested steps with no milestone inherit the
// parent step's already-resolved milestone, not the document default.
// Deeper nesting is left to the validator to reject.
func normalizeNested(parent *Step, alloc *idAllocator) {
	for i := range parent.Paths {
		path := &parent.Paths[i]
		if path.PathID == "" {
			path.PathID = alloc.nextPath()
		}
		normalizeChildSteps(path.Steps, parent.MilestoneID, alloc)
	}
	for i := range parent.Outcomes {
		outcome := &parent.Outcomes[i]
		if outcome.OutcomeID == "" {
			outcome.OutcomeID = alloc.nextOutcome()
		}
		normalizeChildSteps(outcome.Steps, parent.MilestoneID, alloc)
	}
}

func normalizeChildSteps(steps []Step, parentMilestoneID string, alloc *idAllocator) {
	for i := range steps {
		if steps[i].StepID == "" {
			steps[i].StepID = alloc.nextStep()
		}
		if parentMilestoneID != "" && steps[i].MilestoneID == "" && steps[i].Type != StepTypeGoto {
			steps[i].MilestoneID = parentMilestoneID
		}
	}
}

// NewFlowID synthesizes a process-wide-unique flow identifier.
func NewFlowID() string {
	return "flow_" + uuid.New().String()[:8]
}
