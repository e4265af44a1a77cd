package session

import (
	"fmt"
	"log/slog"

	"github.com/c360studio/flowdraft/flow"
	"github.com/c360studio/flowdraft/flow/validation"
	"github.com/c360studio/flowdraft/intent"
)

// Validator is the semantic validation contract the router consults
// after every create or edit. An invalid result is a hard rejection
// of the whole mutation.
type Validator interface {
	Validate(f *flow.Flow, mode validation.Mode) *validation.Result
}

// HandlerResult is returned to the caller (e.g. the turn processor or
// an HTTP layer) after routing one intent.
type HandlerResult struct {
	// Success is false when the intent was rejected; Errors explains
	// why and the session is guaranteed unchanged.
	Success bool `json:"success"`

	// Workflow is the resulting document for create/edit intents —
	// committed when applyToSession was set, otherwise the preview
	// candidate. Nil for clarify/reject/respond.
	Workflow *flow.Flow `json:"workflow,omitempty"`

	// Message is the user-facing summary of what happened.
	Message string `json:"message"`

	// Errors holds the failure details when Success is false.
	Errors []string `json:"errors,omitempty"`

	// Clarifications surfaces the AI's questions for a clarify intent.
	Clarifications []intent.Question `json:"clarifications,omitempty"`
}

// Router dispatches typed intents against session state, enforcing
// the preview/commit distinction. It assumes at most one in-flight
// mutation per session; the caller owns serialization.
type Router struct {
	validator Validator
	logger    *slog.Logger
}

// NewRouter creates a router over the given validator.
func NewRouter(validator Validator, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{validator: validator, logger: logger}
}

// Handle routes one typed intent. With applyToSession false, create
// and edit run in preview mode: the candidate document is normalized
// and validated but the session is not touched. With it true, the
// validated document replaces the committed workflow.
//
// Any failure — parse-level, operation-level, semantic, or an
// unexpected panic — leaves the previously committed workflow
// byte-for-byte intact.
func (r *Router) Handle(sess *Session, resp *intent.Response, applyToSession bool) (result *HandlerResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Unexpected failure handling response",
				"session_id", sess.ID,
				"mode", resp.Mode,
				"panic", rec)
			result = &HandlerResult{
				Success: false,
				Message: "An unexpected error occurred; the workflow was not changed.",
				Errors:  []string{fmt.Sprintf("internal error: %v", rec)},
			}
		}
	}()

	switch resp.Mode {
	case intent.ModeCreate:
		return r.handleCreate(sess, resp.Create, applyToSession)
	case intent.ModeEdit:
		return r.handleEdit(sess, resp.Edit, applyToSession)
	case intent.ModeClarify:
		return r.handleClarify(sess, resp.Clarify)
	case intent.ModeReject:
		return r.handleReject(sess, resp.Reject)
	case intent.ModeRespond:
		return r.handleRespond(sess, resp.Respond)
	default:
		return &HandlerResult{
			Success: false,
			Message: "The response could not be routed.",
			Errors:  []string{fmt.Sprintf("mode: unknown mode %q", resp.Mode)},
		}
	}
}

// handleCreate normalizes and validates a proposed workflow, then
// either commits it or returns it as a preview candidate.
func (r *Router) handleCreate(sess *Session, payload *intent.CreatePayload, applyToSession bool) *HandlerResult {
	if payload == nil || payload.Workflow == nil {
		return &HandlerResult{
			Success: false,
			Message: "The response did not include a workflow.",
			Errors:  []string{"workflow: required field is missing"},
		}
	}

	candidate := payload.Workflow.Clone()
	flow.Normalize(candidate)

	if vr := r.validator.Validate(candidate, validation.ModeLenient); !vr.Valid {
		r.logger.Info("Create rejected by validation",
			"session_id", sess.ID,
			"errors", len(vr.Errors))
		return &HandlerResult{
			Success: false,
			Message: "The proposed workflow failed validation; nothing was changed.",
			Errors:  vr.Messages(),
		}
	}

	message := payload.Message
	if message == "" {
		message = fmt.Sprintf("Created workflow %q with %d steps.", candidate.Name, len(candidate.Steps))
	}

	if !applyToSession {
		return &HandlerResult{Success: true, Workflow: candidate, Message: message}
	}

	sess.commit(candidate, intent.ModeCreate)
	r.logger.Info("Workflow committed",
		"session_id", sess.ID,
		"flow_id", candidate.FlowID,
		"mode", intent.ModeCreate,
		"version", sess.Version)
	return &HandlerResult{Success: true, Workflow: candidate, Message: message}
}

// handleEdit applies the operation batch to a copy of the committed
// workflow. Partial success is never committed: any failed operation
// fails the whole edit and the session stays untouched.
func (r *Router) handleEdit(sess *Session, payload *intent.EditPayload, applyToSession bool) *HandlerResult {
	if !sess.HasWorkflow() {
		return &HandlerResult{
			Success: false,
			Message: "No workflow exists to edit.",
			Errors:  []string{"No workflow exists to edit"},
		}
	}
	if payload == nil || len(payload.Operations) == 0 {
		return &HandlerResult{
			Success: false,
			Message: "The response did not include any operations.",
			Errors:  []string{"operations: required field is missing"},
		}
	}

	for _, w := range payload.Warnings {
		r.logger.Warn("Edit contains forward-compatible operation", "session_id", sess.ID, "warning", w)
	}

	applied := flow.Apply(sess.Workflow, payload.Operations)
	if !applied.Success {
		r.logger.Info("Edit rejected: operation failures",
			"session_id", sess.ID,
			"operations", len(payload.Operations),
			"failures", len(applied.Errors()))
		return &HandlerResult{
			Success: false,
			Message: "Some operations could not be applied; the workflow was not changed.",
			Errors:  applied.Errors(),
		}
	}

	candidate := applied.Final
	flow.Normalize(candidate)

	if vr := r.validator.Validate(candidate, validation.ModeLenient); !vr.Valid {
		r.logger.Info("Edit rejected by validation",
			"session_id", sess.ID,
			"errors", len(vr.Errors))
		return &HandlerResult{
			Success: false,
			Message: "The edited workflow failed validation; nothing was changed.",
			Errors:  vr.Messages(),
		}
	}

	message := payload.Message
	if message == "" {
		message = fmt.Sprintf("Applied %d operations to workflow %q.", len(payload.Operations), candidate.Name)
	}

	if !applyToSession {
		return &HandlerResult{Success: true, Workflow: candidate, Message: message}
	}

	sess.commit(candidate, intent.ModeEdit)
	r.logger.Info("Workflow committed",
		"session_id", sess.ID,
		"flow_id", candidate.FlowID,
		"mode", intent.ModeEdit,
		"version", sess.Version)
	return &HandlerResult{Success: true, Workflow: candidate, Message: message}
}

// handleClarify never touches the workflow; it marks the session as
// waiting on answers and surfaces the questions.
func (r *Router) handleClarify(sess *Session, payload *intent.ClarifyPayload) *HandlerResult {
	sess.Metadata.ClarificationsPending = true
	sess.touch(intent.ModeClarify)

	message := payload.Context
	if message == "" {
		message = fmt.Sprintf("I need %d answers before I can continue.", len(payload.Questions))
	}
	return &HandlerResult{
		Success:        true,
		Message:        message,
		Clarifications: payload.Questions,
	}
}

// handleReject never touches the workflow.
func (r *Router) handleReject(sess *Session, payload *intent.RejectPayload) *HandlerResult {
	sess.touch(intent.ModeReject)

	message := payload.Reason
	if payload.Suggestion != "" {
		message = fmt.Sprintf("%s Suggestion: %s", message, payload.Suggestion)
	}
	return &HandlerResult{Success: true, Message: message}
}

// handleRespond passes conversational content through.
func (r *Router) handleRespond(sess *Session, payload *intent.RespondPayload) *HandlerResult {
	sess.touch(intent.ModeRespond)
	return &HandlerResult{Success: true, Message: payload.Message}
}

// CommitPlan applies a previously previewed, already-validated plan
// to the session. The plan's document is committed exactly as
// previewed — it is not re-derived — so the committed workflow is
// identical to what the user approved. A plan derived from an older
// session version is rejected as stale.
func (r *Router) CommitPlan(sess *Session, plan *PendingPlan) *HandlerResult {
	if plan.SessionID != sess.ID {
		return &HandlerResult{
			Success: false,
			Message: "The plan does not belong to this session.",
			Errors:  []string{fmt.Sprintf("plan %s belongs to session %s", plan.PlanID, plan.SessionID)},
		}
	}
	if plan.BaseVersion != sess.Version {
		return &HandlerResult{
			Success: false,
			Message: "The workflow changed since this plan was previewed; please regenerate it.",
			Errors:  []string{fmt.Sprintf("plan %s is stale (base version %d, session version %d)", plan.PlanID, plan.BaseVersion, sess.Version)},
		}
	}
	if plan.Mode == intent.ModeEdit && !sess.HasWorkflow() {
		return &HandlerResult{
			Success: false,
			Message: "No workflow exists to edit.",
			Errors:  []string{"No workflow exists to edit"},
		}
	}

	sess.commit(plan.Workflow, plan.Mode)
	r.logger.Info("Pending plan committed",
		"session_id", sess.ID,
		"plan_id", plan.PlanID,
		"mode", plan.Mode,
		"version", sess.Version)
	return &HandlerResult{
		Success:  true,
		Workflow: plan.Workflow,
		Message:  fmt.Sprintf("Approved plan %s has been applied.", plan.PlanID),
	}
}
