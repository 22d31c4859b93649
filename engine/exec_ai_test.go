// ABOUTME: Tests for the AI executor: prompt templating, bounded retry, fallback model, and streaming.
// ABOUTME: All provider traffic goes through the deterministic stub; no network is touched.
package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lessonforge/pathrun/provider"
)

// fastRetry is a retry budget with negligible delays for tests.
func fastRetry(maxRetries int) provider.RetryPolicy {
	return provider.RetryPolicy{
		MaxRetries:        maxRetries,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestAIModelProducesTextAndUsage(t *testing.T) {
	stub := &provider.StubProvider{Responses: []string{"Here is your hint."}}
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(0)

	node := testNode("tutor", NodeAIModel, map[string]any{"prompt": "Give the learner a hint"})
	out, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	m, ok := out.Value.(map[string]any)
	if !ok {
		t.Fatalf("output = %v", out.Value)
	}
	if m["text"] != "Here is your hint." {
		t.Errorf("text = %v", m["text"])
	}
	if _, ok := m["tokenUsage"]; !ok {
		t.Error("output missing tokenUsage")
	}
}

func TestAIModelRendersPromptTemplate(t *testing.T) {
	stub := &provider.StubProvider{} // echoes the prompt
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(0)

	rc := NewRunContext(map[string]any{
		"name": "Ada",
		"quiz": map[string]any{"score": 85.0},
	})
	node := testNode("tutor", NodeAIModel, map[string]any{
		"prompt": "Explain to {{name}} why {{quiz.score}} is good. {{unknown}} stays.",
	})

	out, err := exec.Execute(context.Background(), node, nil, rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	text := out.Value.(map[string]any)["text"].(string)
	want := "stub: Explain to Ada why 85 is good. {{unknown}} stays."
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestAIModelRequiresPrompt(t *testing.T) {
	exec := NewAIModelExecutor(&provider.StubProvider{})
	node := testNode("tutor", NodeAIModel, nil)

	_, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	var cfg *NodeConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("Execute = %v, want NodeConfigurationError", err)
	}
}

func TestAIModelRetriesThenSucceeds(t *testing.T) {
	stub := &provider.StubProvider{
		Err:       errors.New("rate limited"),
		FailCount: 2,
		Responses: []string{"recovered"},
	}
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(2)

	node := testNode("tutor", NodeAIModel, map[string]any{"prompt": "hi"})
	out, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeOutput {
		t.Fatalf("outcome = %+v", out)
	}
	if stub.Calls() != 3 {
		t.Errorf("provider called %d times, want 3 (initial + 2 retries)", stub.Calls())
	}
}

func TestAIModelRetryDisabled(t *testing.T) {
	stub := &provider.StubProvider{Err: errors.New("down")}
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(2)

	node := testNode("tutor", NodeAIModel, map[string]any{
		"prompt":         "hi",
		"retryOnFailure": false,
	})
	out, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeFail {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	if stub.Calls() != 1 {
		t.Errorf("provider called %d times, want 1 with retry disabled", stub.Calls())
	}
}

func TestAIModelFallbackModel(t *testing.T) {
	// primary attempt fails once; the fallback invocation succeeds
	stub := &provider.StubProvider{
		Err:       errors.New("model unavailable"),
		FailCount: 1,
		Responses: []string{"from fallback"},
	}
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(0)

	node := testNode("tutor", NodeAIModel, map[string]any{
		"prompt":        "hi",
		"model":         "primary-model",
		"fallbackModel": "backup-model",
	})
	out, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeOutput {
		t.Fatalf("outcome = %+v", out)
	}
	if stub.Calls() != 2 {
		t.Errorf("provider called %d times, want 2", stub.Calls())
	}
}

func TestAIModelBothModelsExhaustedFails(t *testing.T) {
	stub := &provider.StubProvider{Err: errors.New("hard down")}
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(1)

	node := testNode("tutor", NodeAIModel, map[string]any{
		"prompt":        "hi",
		"fallbackModel": "backup-model",
	})
	out, err := exec.Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeFail {
		t.Fatalf("outcome = %+v, want failure", out)
	}
	var execErr *ExecutionError
	if !errors.As(out.Err, &execErr) {
		t.Errorf("failure error = %v, want ExecutionError", out.Err)
	}
}

func TestAIModelStreamingEmitsDeltas(t *testing.T) {
	stub := &provider.StubProvider{Responses: []string{"streamed text"}}

	// a scheduler is needed to carry delta events onto the run's stream
	g := mustGraph(t,
		[]*Node{testNode("tutor", NodeAIModel, map[string]any{
			"prompt":         "hi",
			"streamResponse": true,
		})},
		nil,
		"",
	)
	exec := NewAIModelExecutor(stub)
	exec.Retry = fastRetry(0)
	reg := testRegistry(exec)

	rc := NewRunContext(nil)
	em := NewEmitter("test-run")
	sched := NewScheduler("test-run", g, reg, em, rc)
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := em.History()
	if !hasEvent(events, EventNodeOutputDelta) {
		t.Errorf("no node-output-delta events: %v", eventKinds(events))
	}
	out, _ := rc.Read("tutor")
	if out.(map[string]any)["text"] != "streamed text" {
		t.Errorf("final output = %v", out)
	}
}
