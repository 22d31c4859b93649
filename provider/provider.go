// ABOUTME: Uniform AI provider capability consumed by AI-model and router executors.
// ABOUTME: Concrete provider selection, credentials, and transport are collaborator concerns.
package provider

import (
	"context"
)

// Request is a single model invocation.
type Request struct {
	Model       string  // model name; empty uses the provider's default
	System      string  // system prompt
	Prompt      string  // user prompt
	Temperature float64 // 0 uses the provider default
	MaxTokens   int     // 0 uses the provider default
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the completed result of one invocation.
type Response struct {
	Text       string `json:"text"`
	TokenUsage Usage  `json:"token_usage"`
}

// Provider is the uniform capability the engine invokes for AI nodes.
type Provider interface {
	// Name identifies the provider for events and configuration.
	Name() string

	// Invoke sends one request and blocks until the full response or an
	// error. Cancellation is cooperative through ctx.
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Streamer is an optional capability for providers that can deliver partial
// output. Deltas carry incremental text; the final Response is still returned
// by the channel's closing Done value.
type Streamer interface {
	// InvokeStream starts a streaming invocation. The returned channel is
	// closed after the final event. Exactly one terminal event (Done or Err
	// set) is sent.
	InvokeStream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// StreamEvent is one step of a streaming invocation.
type StreamEvent struct {
	Delta string    // incremental text, empty on the terminal event
	Done  *Response // set on successful completion
	Err   error     // set on failure
}
