package flowauthor

import (
	"fmt"
	"reflect"

	"github.com/c360studio/flowdraft/llm"
	"github.com/c360studio/semstreams/component"
)

// flowAuthorSchema defines the configuration schema.
var flowAuthorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the flow-author processor component.
type Config struct {
	// StreamName is the JetStream stream for consuming authoring requests.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for authoring requests,category:basic,default:FLOWDRAFT"`

	// ConsumerName is the durable consumer name for request consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for request consumption,category:basic,default:flow-author"`

	// RequestSubject is the subject for authoring turn requests.
	RequestSubject string `json:"request_subject" schema:"type:string,description:Subject for authoring turn requests,category:basic,default:flow.request.author"`

	// ApprovalSubject is the subject for plan approval decisions.
	ApprovalSubject string `json:"approval_subject" schema:"type:string,description:Subject for plan approval decisions,category:basic,default:flow.request.approval"`

	// ResultSubjectPrefix is the prefix for published results; the
	// session ID is appended per message.
	ResultSubjectPrefix string `json:"result_subject_prefix" schema:"type:string,description:Prefix for published turn results,category:basic,default:flow.result"`

	// Endpoints is the LLM endpoint fallback chain, tried in order.
	Endpoints []llm.Endpoint `json:"endpoints,omitempty" schema:"type:array,description:LLM endpoint fallback chain,category:basic"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:          "FLOWDRAFT",
		ConsumerName:        "flow-author",
		RequestSubject:      "flow.request.author",
		ApprovalSubject:     "flow.request.approval",
		ResultSubjectPrefix: "flow.result",
		Endpoints: []llm.Endpoint{
			{Provider: "openai", Model: "gpt-4o-mini"},
		},
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "author-requests",
					Type:        "jetstream",
					Subject:     "flow.request.author",
					StreamName:  "FLOWDRAFT",
					Description: "Receive authoring turn requests",
					Required:    true,
				},
				{
					Name:        "approval-requests",
					Type:        "jetstream",
					Subject:     "flow.request.approval",
					StreamName:  "FLOWDRAFT",
					Description: "Receive plan approval decisions",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "turn-results",
					Type:        "nats",
					Subject:     "flow.result.>",
					Description: "Publish turn results",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.RequestSubject == "" {
		return fmt.Errorf("request_subject is required")
	}
	if c.ApprovalSubject == "" {
		return fmt.Errorf("approval_subject is required")
	}
	if c.ResultSubjectPrefix == "" {
		return fmt.Errorf("result_subject_prefix is required")
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one LLM endpoint is required")
	}
	return nil
}
