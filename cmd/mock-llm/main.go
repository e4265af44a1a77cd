// Package main implements a mock LLM server for flowdraft development.
// It serves OpenAI-compatible /v1/chat/completions responses so the
// flow-author processor can run without a real model: fast,
// deterministic, and offline.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are JSON named by model (e.g., "mock-author.json" maps
// to model "mock-author"); the file content is returned verbatim as
// the assistant message. Without a fixture directory the server falls
// back to built-in intent responses chosen by prompt keywords, which
// is enough to exercise the create, edit, and respond turn paths.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Built-in responses used when no fixture matches. Keyed by keywords
// in the last user message so a demo conversation hits every intent.
const builtinCreate = `{
  "mode": "create",
  "workflow": {
    "name": "Expense Approval",
    "steps": [
      {"name": "Submit expense report", "type": "FORM"},
      {"name": "Manager review", "type": "APPROVAL"},
      {"name": "Notify submitter", "type": "NOTIFICATION"}
    ],
    "milestones": [{"name": "Intake"}],
    "assigneePlaceholders": [{"name": "Manager"}]
  },
  "message": "Drafted a three-step expense approval workflow."
}`

const builtinEdit = `{
  "mode": "edit",
  "operations": [
    {"op": "UPDATE_STEP", "stepId": "step_1", "updates": {"name": "Submit expense report with receipts"}}
  ],
  "message": "Renamed the intake step."
}`

const builtinRespond = `{
  "mode": "respond",
  "message": "This is a canned response from the mock model."
}`

type server struct {
	fixtures map[string]string
	calls    atomic.Int64
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	fixtures := map[string]string{}
	if *fixtureDir != "" {
		var err error
		fixtures, err = loadFixtures(*fixtureDir)
		if err != nil {
			log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
		}
		log.Printf("Loaded %d fixture model(s) from %s", len(fixtures), *fixtureDir)
	} else {
		log.Printf("No fixture directory; serving built-in intent responses")
	}

	s := &server{fixtures: fixtures}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock LLM server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	content := s.selectContent(req)
	log.Printf("[call %d] model=%s messages=%d response=%d bytes",
		callNum, req.Model, len(req.Messages), len(content))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index:        0,
				Message:      chatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// selectContent resolves the assistant message: a fixture for the
// requested model if one exists, otherwise a built-in intent keyed by
// the last user message.
func (s *server) selectContent(req chatRequest) string {
	if content, ok := s.fixtures[req.Model]; ok {
		return content
	}
	if content, ok := s.fixtures[strings.TrimPrefix(req.Model, "mock-")]; ok {
		return content
	}

	var lastUser string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			lastUser = msg.Content
		}
	}
	prompt := strings.ToLower(lastUser)

	switch {
	case strings.Contains(prompt, "## current workflow"):
		// The flow-author appends the committed document for edit turns
		return builtinEdit
	case strings.Contains(prompt, "create") || strings.Contains(prompt, "build") || strings.Contains(prompt, "workflow"):
		return builtinCreate
	default:
		return builtinRespond
	}
}

// handleModels lists served models so OpenAI-compatible clients can
// probe the endpoint.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	models := []modelEntry{{ID: "mock-author", Object: "model", OwnedBy: "mock-llm"}}
	for name := range s.fixtures {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns the call count for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls": s.calls.Load(),
	})
}

// loadFixtures reads JSON files from dir; "mock-author.json" serves
// model "mock-author".
func loadFixtures(dir string) (map[string]string, error) {
	fixtures := make(map[string]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		model := strings.TrimSuffix(info.Name(), ".json")
		fixtures[model] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
