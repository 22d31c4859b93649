// ABOUTME: Deterministic stub provider for tests and offline runs.
// ABOUTME: Replays scripted responses in order, or echoes the prompt when no script is set.
package provider

import (
	"context"
	"fmt"
	"sync"
)

// StubProvider returns scripted responses in order. Once the script is
// exhausted it keeps returning the last entry, so fixed-response stubs need
// only one entry. With no script it echoes the prompt. A non-nil Err fails
// every call until FailCount calls have failed (0 means always).
type StubProvider struct {
	Responses []string
	Err       error
	FailCount int

	mu    sync.Mutex
	calls int
}

var _ Provider = (*StubProvider)(nil)
var _ Streamer = (*StubProvider)(nil)

// Name returns "stub".
func (p *StubProvider) Name() string {
	return "stub"
}

// Calls returns how many invocations the stub has served.
func (p *StubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Invoke returns the next scripted response.
func (p *StubProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	call := p.calls
	p.calls++
	p.mu.Unlock()

	if p.Err != nil && (p.FailCount == 0 || call < p.FailCount) {
		return nil, p.Err
	}

	text := ""
	switch {
	case len(p.Responses) == 0:
		text = fmt.Sprintf("stub: %s", req.Prompt)
	case call < len(p.Responses):
		text = p.Responses[call]
	default:
		text = p.Responses[len(p.Responses)-1]
	}

	return &Response{
		Text:       text,
		TokenUsage: Usage{InputTokens: len(req.Prompt) / 4, OutputTokens: len(text) / 4},
	}, nil
}

// InvokeStream delivers the scripted response as a single delta followed by
// the terminal event.
func (p *StubProvider) InvokeStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	resp, err := p.Invoke(ctx, req)

	events := make(chan StreamEvent, 2)
	go func() {
		defer close(events)
		if err != nil {
			events <- StreamEvent{Err: err}
			return
		}
		events <- StreamEvent{Delta: resp.Text}
		events <- StreamEvent{Done: resp}
	}()
	return events, nil
}
