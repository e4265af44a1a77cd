package intent

import (
	"strings"
	"testing"

	"github.com/c360studio/flowdraft/flow"
)

func hasError(r *ParseResult, substr string) bool {
	for _, e := range r.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestParseCreate(t *testing.T) {
	raw := `{
		"mode": "create",
		"workflow": {
			"name": "Expense Approval",
			"steps": [
				{"name": "Submit", "type": "FORM"},
				{"name": "Review", "type": "APPROVAL"}
			],
			"milestones": [{"name": "Intake"}],
			"assigneePlaceholders": [{"name": "Manager"}]
		},
		"message": "Here is a draft",
		"assumptions": ["Two-stage review"]
	}`

	result := Parse(raw)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	if result.Response.Mode != ModeCreate {
		t.Fatalf("mode = %q, want create", result.Response.Mode)
	}

	c := result.Response.Create
	if c == nil || c.Workflow == nil {
		t.Fatal("create payload missing workflow")
	}
	if c.Workflow.Name != "Expense Approval" {
		t.Errorf("workflow name = %q", c.Workflow.Name)
	}
	if len(c.Workflow.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(c.Workflow.Steps))
	}
	if len(c.Workflow.Roles) != 1 || c.Workflow.Roles[0].Name != "Manager" {
		t.Errorf("assigneePlaceholders not mapped to roles: %+v", c.Workflow.Roles)
	}
	if c.Message != "Here is a draft" {
		t.Errorf("message = %q", c.Message)
	}
	if len(c.Assumptions) != 1 {
		t.Errorf("assumptions = %v", c.Assumptions)
	}
	if result.Raw != raw {
		t.Error("raw text not preserved")
	}
}

func TestParseCreateFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSub string
	}{
		{
			"workflow missing",
			`{"mode": "create"}`,
			"workflow: required field is missing",
		},
		{
			"name missing",
			`{"mode": "create", "workflow": {"steps": []}}`,
			"workflow.name: required field is missing or not a string",
		},
		{
			"name wrong type",
			`{"mode": "create", "workflow": {"name": 42, "steps": []}}`,
			"workflow.name: required field is missing or not a string",
		},
		{
			"steps missing",
			`{"mode": "create", "workflow": {"name": "X"}}`,
			"workflow.steps: required field is missing or not an array",
		},
		{
			"steps wrong type",
			`{"mode": "create", "workflow": {"name": "X", "steps": "none"}}`,
			"workflow.steps: required field is missing or not an array",
		},
		{
			"milestones wrong type",
			`{"mode": "create", "workflow": {"name": "X", "steps": [], "milestones": {}}}`,
			"workflow.milestones: must be an array",
		},
		{
			"placeholders wrong type",
			`{"mode": "create", "workflow": {"name": "X", "steps": [], "assigneePlaceholders": "Manager"}}`,
			"workflow.assigneePlaceholders: must be an array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.input)
			if result.Success {
				t.Fatal("expected failure")
			}
			if !hasError(result, tt.wantSub) {
				t.Errorf("errors %v missing %q", result.Errors, tt.wantSub)
			}
		})
	}
}

func TestParseCreateCollectsMultipleErrors(t *testing.T) {
	result := Parse(`{"mode": "create", "workflow": {"milestones": 7}}`)
	if result.Success {
		t.Fatal("expected failure")
	}
	if len(result.Errors) < 3 {
		t.Errorf("want name, steps, and milestones errors together, got %v", result.Errors)
	}
}

func TestParseEdit(t *testing.T) {
	raw := `{
		"mode": "edit",
		"operations": [
			{"op": "REMOVE_STEP", "stepId": "step_2"},
			{"op": "UPDATE_STEP", "stepId": "step_1", "updates": {"name": "Renamed"}}
		],
		"message": "Removed the duplicate"
	}`

	result := Parse(raw)
	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	e := result.Response.Edit
	if e == nil || len(e.Operations) != 2 {
		t.Fatalf("edit payload = %+v", e)
	}
	if e.Operations[0].Op != flow.OpRemoveStep {
		t.Errorf("op[0] = %q", e.Operations[0].Op)
	}
	if len(e.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", e.Warnings)
	}
}

func TestParseEditUnknownOperationWarns(t *testing.T) {
	result := Parse(`{
		"mode": "edit",
		"operations": [
			{"op": "RECOLOR_STEP", "stepId": "step_1", "color": "red"},
			{"op": "REMOVE_STEP", "stepId": "step_2"}
		]
	}`)

	if !result.Success {
		t.Fatalf("unknown operation must not fail parsing: %v", result.Errors)
	}
	e := result.Response.Edit
	if len(e.Warnings) != 1 || !strings.Contains(e.Warnings[0], "RECOLOR_STEP") {
		t.Errorf("warnings = %v", e.Warnings)
	}
	if len(e.Operations) != 2 {
		t.Errorf("operations = %d, want both kept", len(e.Operations))
	}
}

func TestParseEditFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSub string
	}{
		{
			"operations missing",
			`{"mode": "edit"}`,
			"operations: required field is missing",
		},
		{
			"operations wrong type",
			`{"mode": "edit", "operations": {"op": "REMOVE_STEP"}}`,
			"operations: must be an array",
		},
		{
			"op tag missing",
			`{"mode": "edit", "operations": [{"stepId": "step_1"}]}`,
			"operations[0].op: required field is missing",
		},
		{
			"known op missing required field",
			`{"mode": "edit", "operations": [{"op": "REMOVE_STEP"}]}`,
			"operations[0]:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse(tt.input)
			if result.Success {
				t.Fatal("expected failure")
			}
			if !hasError(result, tt.wantSub) {
				t.Errorf("errors %v missing %q", result.Errors, tt.wantSub)
			}
		})
	}
}

func TestParseClarify(t *testing.T) {
	result := Parse(`{
		"mode": "clarify",
		"questions": [
			{"id": "q1", "text": "Who approves expenses over $500?"},
			{"id": "q2", "text": "Should rejected requests loop back?"}
		],
		"context": "The request left the approval chain ambiguous"
	}`)

	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	c := result.Response.Clarify
	if len(c.Questions) != 2 || c.Questions[0].ID != "q1" {
		t.Errorf("questions = %+v", c.Questions)
	}
	if c.Context == "" {
		t.Error("context dropped")
	}
}

func TestParseClarifyFieldErrors(t *testing.T) {
	result := Parse(`{"mode": "clarify"}`)
	if result.Success || !hasError(result, "at least one question is required") {
		t.Errorf("got %v", result.Errors)
	}

	result = Parse(`{"mode": "clarify", "questions": [{"text": "no id"}, {"id": "q2"}]}`)
	if result.Success {
		t.Fatal("expected failure")
	}
	if !hasError(result, "questions[0].id") || !hasError(result, "questions[1].text") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestParseReject(t *testing.T) {
	result := Parse(`{
		"mode": "reject",
		"reason": "This asks for payroll processing, not a workflow",
		"suggestion": "Describe the approval steps you need"
	}`)

	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	r := result.Response.Reject
	if r.Reason == "" || r.Suggestion == "" {
		t.Errorf("reject payload = %+v", r)
	}

	missing := Parse(`{"mode": "reject"}`)
	if missing.Success || !hasError(missing, "reason: required field is missing") {
		t.Errorf("got %v", missing.Errors)
	}
}

func TestParseRespond(t *testing.T) {
	result := Parse(`{
		"mode": "respond",
		"message": "A branch step splits the flow into parallel paths.",
		"suggestedActions": [{"label": "Add a branch", "prompt": "add a branch after step 2"}]
	}`)

	if !result.Success {
		t.Fatalf("parse failed: %v", result.Errors)
	}
	r := result.Response.Respond
	if r.Message == "" || len(r.SuggestedActions) != 1 {
		t.Errorf("respond payload = %+v", r)
	}

	// Respond is always well-formed, even empty
	empty := Parse(`{"mode": "respond"}`)
	if !empty.Success {
		t.Errorf("empty respond rejected: %v", empty.Errors)
	}
}

func TestParseModeErrors(t *testing.T) {
	result := Parse(`{"message": "no mode here"}`)
	if result.Success || !hasError(result, "mode: required field is missing") {
		t.Errorf("got %v", result.Errors)
	}

	result = Parse(`{"mode": "transmogrify"}`)
	if result.Success || !hasError(result, `unknown mode "transmogrify"`) {
		t.Errorf("got %v", result.Errors)
	}
}

func TestParseExtraction(t *testing.T) {
	t.Run("fenced block", func(t *testing.T) {
		result := Parse("Sure, here you go:\n```json\n{\"mode\": \"respond\", \"message\": \"hi\"}\n```")
		if !result.Success || result.Response.Mode != ModeRespond {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("prose then object", func(t *testing.T) {
		result := Parse(`I think this works: {"mode": "reject", "reason": "out of scope"} - let me know.`)
		if !result.Success || result.Response.Mode != ModeReject {
			t.Errorf("got %+v", result)
		}
	})

	t.Run("no json", func(t *testing.T) {
		result := Parse("I am unable to produce structured output right now.")
		if result.Success || !hasError(result, "Could not find valid JSON in response") {
			t.Errorf("got %v", result.Errors)
		}
		if result.Raw == "" {
			t.Error("raw text not preserved on failure")
		}
	})

	t.Run("broken json", func(t *testing.T) {
		result := Parse(`{"mode": "create", "workflow":`)
		if result.Success {
			t.Fatal("expected failure")
		}
		if result.Raw == "" {
			t.Error("raw text not preserved on failure")
		}
	})
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"null",
		"[]",
		`"just a string"`,
		`{"mode": null}`,
		`{"mode": "edit", "operations": [null]}`,
		"```json\n```",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Parse(%q) panicked: %v", in, r)
				}
			}()
			Parse(in)
		}()
	}
}
