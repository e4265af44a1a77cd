// Package flowauthor provides the processor that drives AI workflow
// authoring turns: it sends the user's prompt to an LLM, parses the
// response into a typed intent, and routes it against session state
// with preview/commit semantics.
package flowauthor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/flowdraft/flow/validation"
	"github.com/c360studio/flowdraft/intent"
	"github.com/c360studio/flowdraft/llm"
	"github.com/c360studio/flowdraft/session"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// maxFormatRetries is the total number of LLM call attempts when the
// response can't be parsed into a typed intent. On each retry the parse
// errors are fed back as a correction prompt so the model can fix its
// output format.
const maxFormatRetries = 5

// llmCompleter is the subset of the LLM client used by the component.
// Extracted as an interface to enable testing with mock responses.
type llmCompleter interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Component implements the flow-author processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	llmClient llmCompleter
	router    *session.Router
	store     session.Store

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	turnsProcessed atomic.Int64
	turnsFailed    atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new flow-author processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.RequestSubject == "" {
		config.RequestSubject = defaults.RequestSubject
	}
	if config.ApprovalSubject == "" {
		config.ApprovalSubject = defaults.ApprovalSubject
	}
	if config.ResultSubjectPrefix == "" {
		config.ResultSubjectPrefix = defaults.ResultSubjectPrefix
	}
	if len(config.Endpoints) == 0 {
		config.Endpoints = defaults.Endpoints
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	return &Component{
		name:       "flow-author",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		llmClient:  llm.NewClient(config.Endpoints, llm.WithLogger(logger)),
		router:     session.NewRouter(validation.NewValidator(), logger),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized flow-author",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"request_subject", c.config.RequestSubject,
		"approval_subject", c.config.ApprovalSubject)
	return nil
}

// Start begins processing authoring requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	// Get JetStream context
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	// Session and plan storage lives in KV buckets on the same server
	if c.store == nil {
		store, err := session.NewKVStore(subCtx, js)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("create session store: %w", err)
		}
		c.store = store
	}

	// Get stream
	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	// Create or get consumer over both request subjects
	consumerConfig := jetstream.ConsumerConfig{
		Durable:        c.config.ConsumerName,
		FilterSubjects: []string{c.config.RequestSubject, c.config.ApprovalSubject},
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        180 * time.Second, // Allow time for LLM
		MaxDeliver:     3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	// Start consuming messages
	go c.consumeLoop(subCtx)

	c.logger.Info("flow-author started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"request_subject", c.config.RequestSubject)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes messages from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Fetch messages with a timeout
		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage dispatches one message by subject.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	// Check for context cancellation before expensive operations
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message during shutdown", "error", err)
		}
		return
	}

	c.turnsProcessed.Add(1)
	c.updateLastActivity()

	switch msg.Subject() {
	case c.config.ApprovalSubject:
		c.handleApproval(ctx, msg)
	default:
		c.handleAuthor(ctx, msg)
	}
}

// handleAuthor processes one authoring turn.
func (c *Component) handleAuthor(ctx context.Context, msg jetstream.Msg) {
	start := time.Now()

	req, err := decodePayload[AuthorRequest](msg.Data())
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		c.logger.Error("Failed to parse author request", "error", err)
		c.terminate(msg)
		return
	}

	c.logger.Info("Processing authoring turn",
		"request_id", req.RequestID,
		"session_id", req.SessionID,
		"auto_apply", req.AutoApply)

	sess, err := c.loadSession(ctx, req.SessionID)
	if err != nil {
		c.logger.Error("Failed to load session",
			"session_id", req.SessionID,
			"error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}
	loadedVersion := sess.Version

	result := c.runTurn(ctx, sess, loadedVersion, req)
	recordTurn(result.Mode, result.Status, time.Since(start).Seconds())
	if result.Status == StatusFailed {
		c.turnsFailed.Add(1)
	}

	c.publishResult(ctx, result)
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}

	c.logger.Info("Authoring turn finished",
		"request_id", req.RequestID,
		"session_id", req.SessionID,
		"mode", result.Mode,
		"status", result.Status,
		"duration", time.Since(start))
}

// runTurn calls the model, parses the intent, and routes it. All
// outcomes become a result; only infrastructure failures surface as
// message redelivery.
func (c *Component) runTurn(ctx context.Context, sess *session.Session, loadedVersion uint64, req *AuthorRequest) *AuthorResult {
	parsed, err := c.generateIntent(ctx, sess, req.Prompt)
	if err != nil {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Status:    StatusFailed,
			Message:   "The model could not be reached; please try again.",
			Errors:    []string{err.Error()},
		}
	}
	if !parsed.Success {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Status:    StatusFailed,
			Message:   "The model's response could not be understood; the workflow was not changed.",
			Errors:    parsed.Errors,
		}
	}

	resp := parsed.Response
	mode := string(resp.Mode)

	// Create and edit preview by default: the candidate is validated
	// and parked as a pending plan until the user approves it.
	if (resp.Mode == intent.ModeCreate || resp.Mode == intent.ModeEdit) && !req.AutoApply {
		return c.previewTurn(ctx, sess, req, resp)
	}

	hr := c.router.Handle(sess, resp, true)
	if !hr.Success {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Mode:      mode,
			Status:    StatusRejected,
			Message:   hr.Message,
			Errors:    hr.Errors,
		}
	}

	if err := c.store.Put(ctx, sess, loadedVersion); err != nil {
		if errors.Is(err, session.ErrVersionConflict) {
			return &AuthorResult{
				RequestID: req.RequestID,
				SessionID: req.SessionID,
				Mode:      mode,
				Status:    StatusFailed,
				Message:   "The session changed while this turn was in flight; please retry.",
				Errors:    []string{err.Error()},
			}
		}
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Mode:      mode,
			Status:    StatusFailed,
			Message:   "The session could not be saved.",
			Errors:    []string{err.Error()},
		}
	}

	return &AuthorResult{
		RequestID:      req.RequestID,
		SessionID:      req.SessionID,
		Mode:           mode,
		Status:         StatusCompleted,
		Message:        hr.Message,
		Errors:         hr.Errors,
		Clarifications: hr.Clarifications,
		Workflow:       hr.Workflow,
		SessionVersion: sess.Version,
	}
}

// previewTurn validates a create or edit without committing and parks
// the candidate document as a pending plan.
func (c *Component) previewTurn(ctx context.Context, sess *session.Session, req *AuthorRequest, resp *intent.Response) *AuthorResult {
	mode := string(resp.Mode)

	hr := c.router.Handle(sess, resp, false)
	if !hr.Success {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Mode:      mode,
			Status:    StatusRejected,
			Message:   hr.Message,
			Errors:    hr.Errors,
		}
	}

	plan := session.NewPendingPlan(sess.ID, resp.Mode, hr.Workflow, sess.Version, hr.Message)
	if err := c.store.PutPlan(ctx, plan); err != nil {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			Mode:      mode,
			Status:    StatusFailed,
			Message:   "The preview could not be saved.",
			Errors:    []string{err.Error()},
		}
	}
	plansPending.Inc()

	c.logger.Info("Plan previewed",
		"session_id", sess.ID,
		"plan_id", plan.PlanID,
		"mode", mode,
		"base_version", plan.BaseVersion)

	return &AuthorResult{
		RequestID:      req.RequestID,
		SessionID:      req.SessionID,
		Mode:           mode,
		Status:         StatusPendingApproval,
		Message:        hr.Message,
		Workflow:       hr.Workflow,
		PlanID:         plan.PlanID,
		SessionVersion: sess.Version,
	}
}

// handleApproval resolves a pending plan: commit on approval, discard
// on decline.
func (c *Component) handleApproval(ctx context.Context, msg jetstream.Msg) {
	req, err := decodePayload[ApprovalRequest](msg.Data())
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		c.logger.Error("Failed to parse approval request", "error", err)
		c.terminate(msg)
		return
	}

	result := c.resolveApproval(ctx, req)
	if result.Status == StatusFailed {
		c.turnsFailed.Add(1)
	}

	c.publishResult(ctx, result)
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}

	c.logger.Info("Approval resolved",
		"request_id", req.RequestID,
		"session_id", req.SessionID,
		"plan_id", req.PlanID,
		"approved", req.Approved,
		"status", result.Status)
}

func (c *Component) resolveApproval(ctx context.Context, req *ApprovalRequest) *AuthorResult {
	plan, err := c.store.GetPlan(ctx, req.SessionID, req.PlanID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return &AuthorResult{
				RequestID: req.RequestID,
				SessionID: req.SessionID,
				PlanID:    req.PlanID,
				Status:    StatusFailed,
				Message:   "The plan no longer exists; it may have been resolved already.",
				Errors:    []string{fmt.Sprintf("plan %s not found", req.PlanID)},
			}
		}
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Status:    StatusFailed,
			Message:   "The plan could not be loaded.",
			Errors:    []string{err.Error()},
		}
	}

	if !req.Approved {
		c.discardPlan(ctx, req.SessionID, req.PlanID)
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Mode:      string(plan.Mode),
			Status:    StatusDiscarded,
			Message:   "The plan was discarded; the workflow was not changed.",
		}
	}

	sess, err := c.loadSession(ctx, req.SessionID)
	if err != nil {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Status:    StatusFailed,
			Message:   "The session could not be loaded.",
			Errors:    []string{err.Error()},
		}
	}
	loadedVersion := sess.Version

	hr := c.router.CommitPlan(sess, plan)
	if !hr.Success {
		// A stale plan can never become committable; drop it.
		c.discardPlan(ctx, req.SessionID, req.PlanID)
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Mode:      string(plan.Mode),
			Status:    StatusRejected,
			Message:   hr.Message,
			Errors:    hr.Errors,
		}
	}

	if err := c.store.Put(ctx, sess, loadedVersion); err != nil {
		return &AuthorResult{
			RequestID: req.RequestID,
			SessionID: req.SessionID,
			PlanID:    req.PlanID,
			Mode:      string(plan.Mode),
			Status:    StatusFailed,
			Message:   "The approved plan could not be saved.",
			Errors:    []string{err.Error()},
		}
	}
	c.discardPlan(ctx, req.SessionID, req.PlanID)

	return &AuthorResult{
		RequestID:      req.RequestID,
		SessionID:      req.SessionID,
		PlanID:         req.PlanID,
		Mode:           string(plan.Mode),
		Status:         StatusCompleted,
		Message:        hr.Message,
		Workflow:       hr.Workflow,
		SessionVersion: sess.Version,
	}
}

func (c *Component) discardPlan(ctx context.Context, sessionID, planID string) {
	if err := c.store.DeletePlan(ctx, sessionID, planID); err != nil {
		c.logger.Warn("Failed to delete plan",
			"session_id", sessionID,
			"plan_id", planID,
			"error", err)
		return
	}
	plansPending.Dec()
}

// loadSession loads a session, creating an empty one on first contact.
func (c *Component) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.New(sessionID), nil
		}
		return nil, err
	}
	return sess, nil
}

// generateIntent calls the LLM with format correction retry. If the
// response can't be parsed into a typed intent, the parse errors are
// fed back as a correction prompt (up to maxFormatRetries total
// attempts). The conversation history accumulates across retries.
func (c *Component) generateIntent(ctx context.Context, sess *session.Session, prompt string) (*intent.ParseResult, error) {
	temperature := 0.7
	messages := []llm.Message{
		{Role: "system", Content: SystemPrompt()},
		{Role: "user", Content: UserPrompt(prompt, sess.Workflow)},
	}

	var lastResult *intent.ParseResult

	for attempt := range maxFormatRetries {
		llmResp, err := c.llmClient.Complete(ctx, llm.Request{
			Messages:    messages,
			Temperature: &temperature,
			MaxTokens:   4096,
		})
		if err != nil {
			return nil, fmt.Errorf("LLM completion: %w", err)
		}

		c.logger.Debug("LLM response received",
			"model", llmResp.Model,
			"tokens_used", llmResp.TokensUsed,
			"attempt", attempt+1)

		lastResult = intent.Parse(llmResp.Content)
		if lastResult.Success {
			return lastResult, nil
		}

		// Don't retry on the last attempt
		if attempt+1 >= maxFormatRetries {
			break
		}

		formatRetriesTotal.Inc()
		c.logger.Warn("LLM format retry",
			"session_id", sess.ID,
			"attempt", attempt+1,
			"errors", len(lastResult.Errors))

		// Append assistant response + correction to conversation history
		messages = append(messages,
			llm.Message{Role: "assistant", Content: llmResp.Content},
			llm.Message{Role: "user", Content: formatCorrectionPrompt(lastResult.Errors)},
		)
	}

	return lastResult, nil
}

// publishResult publishes the turn result to the session's result
// subject. Publish failures are logged, not surfaced; the turn itself
// already succeeded or failed on its own terms.
func (c *Component) publishResult(ctx context.Context, result *AuthorResult) {
	baseMsg := message.NewBaseMessage(AuthorResultType, result, c.name)

	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Error("Failed to marshal result",
			"session_id", result.SessionID,
			"error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s", c.config.ResultSubjectPrefix, result.SessionID)
	if err := c.natsClient.Publish(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish result",
			"session_id", result.SessionID,
			"subject", subject,
			"error", err)
	}
}

// terminate ACKs a message that can never succeed, such as one whose
// payload doesn't decode. Redelivery would only fail the same way.
func (c *Component) terminate(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK malformed message", "error", err)
	}
}

// decodePayload unwraps a payload from either a BaseMessage envelope or
// raw JSON.
func decodePayload[T any](data []byte) (*T, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Payload) > 0 {
		data = envelope.Payload
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &v, nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	// Copy cancel function and clear state before releasing lock
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	// Cancel context after releasing lock to avoid potential deadlock
	if cancel != nil {
		cancel()
	}

	c.logger.Info("flow-author stopped",
		"turns_processed", c.turnsProcessed.Load(),
		"turns_failed", c.turnsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "flow-author",
		Type:        "processor",
		Description: "Drives AI workflow authoring turns with preview/commit semantics",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return flowAuthorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.turnsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
