package flow

// Clone returns a deep copy of the flow. The applier and the router
// always mutate a clone so a failed batch can be discarded without
// touching the committed document.
func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	out := &Flow{
		FlowID: f.FlowID,
		Name:   f.Name,
		Steps:  cloneSteps(f.Steps),
	}
	if f.Milestones != nil {
		out.Milestones = make([]Milestone, len(f.Milestones))
		copy(out.Milestones, f.Milestones)
	}
	if f.Roles != nil {
		out.Roles = make([]Role, len(f.Roles))
		copy(out.Roles, f.Roles)
	}
	return out
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = cloneStep(s)
	}
	return out
}

func cloneStep(s Step) Step {
	c := s
	c.Config = cloneConfig(s.Config)
	if s.Paths != nil {
		c.Paths = make([]Path, len(s.Paths))
		for i, p := range s.Paths {
			c.Paths[i] = p
			if p.Conditions != nil {
				c.Paths[i].Conditions = make([]Condition, len(p.Conditions))
				copy(c.Paths[i].Conditions, p.Conditions)
			}
			c.Paths[i].Steps = cloneSteps(p.Steps)
		}
	}
	if s.Outcomes != nil {
		c.Outcomes = make([]Outcome, len(s.Outcomes))
		for i, o := range s.Outcomes {
			c.Outcomes[i] = o
			c.Outcomes[i].Steps = cloneSteps(o.Steps)
		}
	}
	return c
}

// cloneConfig copies one level of the config map. Nested values are
// shared; operations only ever replace config keys, never mutate
// nested values in place.
func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

// FindStep locates a step anywhere in the tree by ID: top-level steps
// first, then recursively inside every path and outcome. Returns nil
// when the step does not exist.
func (f *Flow) FindStep(stepID string) *Step {
	return findStepIn(f.Steps, stepID)
}

func findStepIn(steps []Step, stepID string) *Step {
	for i := range steps {
		if steps[i].StepID == stepID {
			return &steps[i]
		}
		for j := range steps[i].Paths {
			if found := findStepIn(steps[i].Paths[j].Steps, stepID); found != nil {
				return found
			}
		}
		for j := range steps[i].Outcomes {
			if found := findStepIn(steps[i].Outcomes[j].Steps, stepID); found != nil {
				return found
			}
		}
	}
	return nil
}

// findSiblings locates the sibling list containing stepID and the
// step's index within it. The returned pointer addresses the actual
// slice inside the tree so callers can splice in place.
func findSiblings(steps *[]Step, stepID string) (*[]Step, int) {
	for i := range *steps {
		if (*steps)[i].StepID == stepID {
			return steps, i
		}
		for j := range (*steps)[i].Paths {
			if list, idx := findSiblings(&(*steps)[i].Paths[j].Steps, stepID); list != nil {
				return list, idx
			}
		}
		for j := range (*steps)[i].Outcomes {
			if list, idx := findSiblings(&(*steps)[i].Outcomes[j].Steps, stepID); list != nil {
				return list, idx
			}
		}
	}
	return nil, -1
}
