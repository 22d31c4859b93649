// ABOUTME: AI model executor: provider invocation with bounded retry, fallback model, and
// ABOUTME: optional streaming that emits partial-output events without changing the completion contract.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/lessonforge/pathrun/provider"
)

// AIModelExecutor invokes the configured provider for ai-model nodes.
type AIModelExecutor struct {
	Provider provider.Provider
	Retry    provider.RetryPolicy

	sched *Scheduler
}

// NewAIModelExecutor creates an AI executor with the default bounded retry
// budget.
func NewAIModelExecutor(p provider.Provider) *AIModelExecutor {
	return &AIModelExecutor{Provider: p, Retry: provider.DefaultRetryPolicy()}
}

func (e *AIModelExecutor) Type() NodeType {
	return NodeAIModel
}

// Execute renders the prompt template against the bindings and invokes the
// provider. On provider failure with retryOnFailure, the bounded backoff
// budget is spent first, then fallbackModel gets one retried run; only after
// both does the node fail. Output: {text, tokenUsage}.
func (e *AIModelExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if e.Provider == nil {
		return Failure(fmt.Errorf("ai-model %q: no provider configured", node.ID)), nil
	}

	promptTemplate := dataString(node, "prompt", "")
	if promptTemplate == "" {
		return nil, configErr(node, "prompt", "ai-model requires a prompt")
	}

	req := provider.Request{
		Model:     dataString(node, "model", ""),
		System:    dataString(node, "systemPrompt", ""),
		Prompt:    renderTemplate(promptTemplate, rc),
		MaxTokens: dataInt(node, "maxTokens", 0),
	}
	if t, ok := dataFloat(node, "temperature"); ok {
		req.Temperature = t
	}

	retry := e.Retry
	if !dataBool(node, "retryOnFailure", true) {
		retry.MaxRetries = 0
	}
	retry.OnRetry = func(err error, attempt int) {
		e.emit(EventNodeRetrying, node.ID, map[string]any{"attempt": attempt + 1, "reason": err.Error()})
	}

	resp, err := e.invoke(ctx, node, retry, req)
	if err != nil {
		fallback := dataString(node, "fallbackModel", "")
		if fallback == "" || ctx.Err() != nil {
			return Failure(&ExecutionError{NodeID: node.ID, Err: err}), nil
		}
		req.Model = fallback
		e.emit(EventNodeRetrying, node.ID, map[string]any{"fallback_model": fallback})
		resp, err = e.invoke(ctx, node, retry, req)
		if err != nil {
			return Failure(&ExecutionError{NodeID: node.ID, Err: err}), nil
		}
	}

	return Output(map[string]any{
		"text":       resp.Text,
		"tokenUsage": resp.TokenUsage.Total(),
	}), nil
}

// invoke runs one (retried) provider invocation, streaming partial output
// when the node asks for it and the provider can.
func (e *AIModelExecutor) invoke(ctx context.Context, node *Node, retry provider.RetryPolicy, req provider.Request) (*provider.Response, error) {
	streamer, canStream := e.Provider.(provider.Streamer)
	if !dataBool(node, "streamResponse", false) || !canStream {
		return retry.Invoke(ctx, e.Provider, req)
	}

	events, err := streamer.InvokeStream(ctx, req)
	if err != nil {
		// streaming setup failed: the completion contract still holds, so
		// fall back to the blocking path under the retry budget
		return retry.Invoke(ctx, e.Provider, req)
	}

	for evt := range events {
		switch {
		case evt.Err != nil:
			return nil, evt.Err
		case evt.Done != nil:
			return evt.Done, nil
		case evt.Delta != "":
			e.emit(EventNodeOutputDelta, node.ID, map[string]any{"delta": evt.Delta})
		}
	}
	return nil, fmt.Errorf("stream ended without a terminal event")
}

// emit forwards to the run's emitter when wired.
func (e *AIModelExecutor) emit(kind EventKind, nodeID string, payload map[string]any) {
	if e.sched != nil {
		e.sched.emit(kind, nodeID, payload)
	}
}

// renderTemplate substitutes {{key}} placeholders with bindings, using the
// dotted lookup rules of the condition language. Unknown keys are left
// untouched so prompt problems stay visible.
func renderTemplate(template string, rc *RunContext) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end += start

		b.WriteString(rest[:start])
		key := strings.TrimSpace(rest[start+2 : end])
		if v, ok := resolveBinding(key, rc); ok {
			fmt.Fprintf(&b, "%v", v)
		} else {
			b.WriteString(rest[start : end+2])
		}
		rest = rest[end+2:]
	}
}
