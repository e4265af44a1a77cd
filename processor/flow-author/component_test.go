package flowauthor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/c360studio/flowdraft/flow/validation"
	"github.com/c360studio/flowdraft/llm"
	"github.com/c360studio/flowdraft/session"
)

// mockLLM plays back scripted responses, repeating the last one once
// the script runs out.
type mockLLM struct {
	responses []string
	err       error
	calls     []llm.Request
}

func (m *mockLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return &llm.Response{Content: m.responses[i], Model: "mock"}, nil
}

func newTestComponent(mock llmCompleter) *Component {
	logger := slog.Default()
	return &Component{
		name:      "flow-author",
		config:    DefaultConfig(),
		logger:    logger,
		llmClient: mock,
		router:    session.NewRouter(validation.NewValidator(), logger),
		store:     session.NewMemoryStore(),
	}
}

const createResponse = `{
	"mode": "create",
	"workflow": {
		"name": "Expense Approval",
		"steps": [
			{"name": "Submit", "type": "FORM"},
			{"name": "Review", "type": "APPROVAL"}
		]
	},
	"message": "Drafted a two-step approval flow"
}`

// runAuthorTurn drives one authoring turn the way handleAuthor does,
// without the JetStream plumbing.
func runAuthorTurn(t *testing.T, c *Component, req *AuthorRequest) *AuthorResult {
	t.Helper()
	ctx := context.Background()
	sess, err := c.loadSession(ctx, req.SessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return c.runTurn(ctx, sess, sess.Version, req)
}

func TestRunTurnCreatePreviews(t *testing.T) {
	mock := &mockLLM{responses: []string{createResponse}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
	})

	if result.Status != StatusPendingApproval {
		t.Fatalf("status = %q, want pending_approval: %v", result.Status, result.Errors)
	}
	if result.PlanID == "" {
		t.Error("plan ID missing")
	}
	if result.Workflow == nil || result.Workflow.Steps[0].StepID == "" {
		t.Error("preview workflow missing or not normalized")
	}

	// The plan is parked; the session itself stays unwritten
	ctx := context.Background()
	if _, err := c.store.GetPlan(ctx, "sess-1", result.PlanID); err != nil {
		t.Errorf("plan not stored: %v", err)
	}
	if _, err := c.store.Get(ctx, "sess-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("preview persisted the session: %v", err)
	}
}

func TestRunTurnCreateAutoApply(t *testing.T) {
	mock := &mockLLM{responses: []string{createResponse}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
		AutoApply: true,
	})

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed: %v", result.Status, result.Errors)
	}
	if result.SessionVersion != 1 {
		t.Errorf("session version = %d, want 1", result.SessionVersion)
	}

	stored, err := c.store.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if !stored.HasWorkflow() || stored.Workflow.Name != "Expense Approval" {
		t.Errorf("stored session = %+v", stored)
	}
}

func TestRunTurnRespond(t *testing.T) {
	mock := &mockLLM{responses: []string{`{"mode": "respond", "message": "A branch splits the flow."}`}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "What does a branch step do?",
	})

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q: %v", result.Status, result.Errors)
	}
	if result.Message != "A branch splits the flow." {
		t.Errorf("message = %q", result.Message)
	}
	if result.Workflow != nil {
		t.Error("conversational turn produced a workflow")
	}
}

func TestRunTurnLLMFailure(t *testing.T) {
	mock := &mockLLM{err: errors.New("connection refused")}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build something",
	})

	if result.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if !strings.Contains(result.Message, "could not be reached") {
		t.Errorf("message = %q", result.Message)
	}
	if len(mock.calls) != 1 {
		t.Errorf("calls = %d, want 1 (transport errors are not format retries)", len(mock.calls))
	}
}

func TestRunTurnFormatRetrySucceeds(t *testing.T) {
	mock := &mockLLM{responses: []string{
		"I would structure it as follows: submit, then review.",
		createResponse,
	}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
		AutoApply: true,
	})

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q: %v", result.Status, result.Errors)
	}
	if len(mock.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(mock.calls))
	}

	// The retry carries the failed response plus a correction prompt
	retry := mock.calls[1].Messages
	if len(retry) != 4 {
		t.Fatalf("retry messages = %d, want 4", len(retry))
	}
	if retry[2].Role != "assistant" || !strings.Contains(retry[2].Content, "structure it as follows") {
		t.Errorf("retry[2] = %+v, want the failed assistant response", retry[2])
	}
	if retry[3].Role != "user" || !strings.Contains(retry[3].Content, "Could not find valid JSON") {
		t.Errorf("retry[3] = %+v, want the correction prompt", retry[3])
	}
}

func TestRunTurnFormatRetryExhausted(t *testing.T) {
	mock := &mockLLM{responses: []string{"still not json"}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build something",
	})

	if result.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if len(mock.calls) != maxFormatRetries {
		t.Errorf("calls = %d, want %d", len(mock.calls), maxFormatRetries)
	}
	if len(result.Errors) == 0 {
		t.Error("parse errors not surfaced")
	}
}

func TestRunTurnEditWithoutWorkflowRejected(t *testing.T) {
	mock := &mockLLM{responses: []string{
		`{"mode": "edit", "operations": [{"op": "REMOVE_STEP", "stepId": "step_1"}]}`,
	}}
	c := newTestComponent(mock)

	result := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Remove the first step",
	})

	if result.Status != StatusRejected {
		t.Fatalf("status = %q, want rejected: %v", result.Status, result.Errors)
	}
	if !strings.Contains(result.Message, "No workflow exists to edit") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestResolveApprovalCommits(t *testing.T) {
	mock := &mockLLM{responses: []string{createResponse}}
	c := newTestComponent(mock)
	ctx := context.Background()

	preview := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
	})
	if preview.Status != StatusPendingApproval {
		t.Fatalf("setup preview = %+v", preview)
	}

	result := c.resolveApproval(ctx, &ApprovalRequest{
		RequestID: "req-2",
		SessionID: "sess-1",
		PlanID:    preview.PlanID,
		Approved:  true,
	})

	if result.Status != StatusCompleted {
		t.Fatalf("status = %q: %v", result.Status, result.Errors)
	}
	stored, err := c.store.Get(ctx, "sess-1")
	if err != nil || !stored.HasWorkflow() {
		t.Fatalf("session not committed: %v", err)
	}
	if stored.Version != 1 {
		t.Errorf("version = %d, want 1", stored.Version)
	}
	if _, err := c.store.GetPlan(ctx, "sess-1", preview.PlanID); !errors.Is(err, session.ErrNotFound) {
		t.Error("committed plan not discarded")
	}
}

func TestResolveApprovalDeclineDiscards(t *testing.T) {
	mock := &mockLLM{responses: []string{createResponse}}
	c := newTestComponent(mock)
	ctx := context.Background()

	preview := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
	})

	result := c.resolveApproval(ctx, &ApprovalRequest{
		RequestID: "req-2",
		SessionID: "sess-1",
		PlanID:    preview.PlanID,
		Approved:  false,
	})

	if result.Status != StatusDiscarded {
		t.Fatalf("status = %q", result.Status)
	}
	if _, err := c.store.GetPlan(ctx, "sess-1", preview.PlanID); !errors.Is(err, session.ErrNotFound) {
		t.Error("declined plan not discarded")
	}
	if _, err := c.store.Get(ctx, "sess-1"); !errors.Is(err, session.ErrNotFound) {
		t.Error("declined plan touched the session")
	}
}

func TestResolveApprovalStalePlan(t *testing.T) {
	mock := &mockLLM{responses: []string{createResponse}}
	c := newTestComponent(mock)
	ctx := context.Background()

	preview := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Build an expense approval workflow",
	})

	// A competing auto-applied turn commits first, so the plan's base
	// version no longer matches
	competing := runAuthorTurn(t, c, &AuthorRequest{
		RequestID: "req-2",
		SessionID: "sess-1",
		Prompt:    "Build it again",
		AutoApply: true,
	})
	if competing.Status != StatusCompleted {
		t.Fatalf("competing turn = %+v", competing)
	}

	result := c.resolveApproval(ctx, &ApprovalRequest{
		RequestID: "req-3",
		SessionID: "sess-1",
		PlanID:    preview.PlanID,
		Approved:  true,
	})

	if result.Status != StatusRejected {
		t.Fatalf("status = %q, want rejected: %v", result.Status, result.Errors)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "is stale") {
		t.Errorf("errors = %v", result.Errors)
	}
	if _, err := c.store.GetPlan(ctx, "sess-1", preview.PlanID); !errors.Is(err, session.ErrNotFound) {
		t.Error("stale plan not discarded")
	}

	stored, _ := c.store.Get(ctx, "sess-1")
	if stored.Version != 1 {
		t.Errorf("version = %d, want unchanged 1", stored.Version)
	}
}

func TestResolveApprovalMissingPlan(t *testing.T) {
	c := newTestComponent(&mockLLM{})

	result := c.resolveApproval(context.Background(), &ApprovalRequest{
		RequestID: "req-1",
		SessionID: "sess-1",
		PlanID:    "plan-missing",
		Approved:  true,
	})

	if result.Status != StatusFailed {
		t.Fatalf("status = %q", result.Status)
	}
	if !strings.Contains(result.Message, "no longer exists") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("raw json", func(t *testing.T) {
		req, err := decodePayload[AuthorRequest]([]byte(`{"request_id": "r1", "session_id": "s1", "prompt": "hi"}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.SessionID != "s1" || req.Prompt != "hi" {
			t.Errorf("req = %+v", req)
		}
	})

	t.Run("base message envelope", func(t *testing.T) {
		data := []byte(`{
			"type": {"domain": "flow", "category": "author-request", "version": "v1"},
			"payload": {"request_id": "r1", "session_id": "s1", "prompt": "hi"}
		}`)
		req, err := decodePayload[AuthorRequest](data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.SessionID != "s1" {
			t.Errorf("req = %+v", req)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := decodePayload[AuthorRequest]([]byte("not json")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRequestValidation(t *testing.T) {
	if err := (&AuthorRequest{SessionID: "s", Prompt: "p"}).Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := (&AuthorRequest{Prompt: "p"}).Validate(); err == nil {
		t.Error("missing session_id accepted")
	}
	if err := (&AuthorRequest{SessionID: "s"}).Validate(); err == nil {
		t.Error("missing prompt accepted")
	}

	if err := (&ApprovalRequest{SessionID: "s", PlanID: "p"}).Validate(); err != nil {
		t.Errorf("valid approval rejected: %v", err)
	}
	if err := (&ApprovalRequest{SessionID: "s"}).Validate(); err == nil {
		t.Error("missing plan_id accepted")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.StreamName != "FLOWDRAFT" || cfg.ConsumerName != "flow-author" {
		t.Errorf("defaults = %+v", cfg)
	}
	if len(cfg.Endpoints) == 0 {
		t.Error("no default endpoint")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing stream", func(c *Config) { c.StreamName = "" }},
		{"missing consumer", func(c *Config) { c.ConsumerName = "" }},
		{"missing request subject", func(c *Config) { c.RequestSubject = "" }},
		{"missing approval subject", func(c *Config) { c.ApprovalSubject = "" }},
		{"missing result prefix", func(c *Config) { c.ResultSubjectPrefix = "" }},
		{"no endpoints", func(c *Config) { c.Endpoints = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
