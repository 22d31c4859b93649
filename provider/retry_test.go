// ABOUTME: Tests for the retry policy: backoff growth, capping, jitter bounds, and invocation flow.
package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCalculateDelayExponentialGrowth(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for attempt, expected := range want {
		if got := p.CalculateDelay(attempt); got != expected {
			t.Errorf("attempt %d delay = %v, want %v", attempt, got, expected)
		}
	}
}

func TestCalculateDelayCapped(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:         time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 10.0,
	}
	if got := p.CalculateDelay(5); got != 3*time.Second {
		t.Errorf("capped delay = %v, want %v", got, 3*time.Second)
	}
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for i := 0; i < 50; i++ {
		d := p.CalculateDelay(2)
		if d < 0 || d > 4*time.Second {
			t.Fatalf("jittered delay %v outside [0, 4s]", d)
		}
	}
}

func TestInvokeSucceedsFirstTry(t *testing.T) {
	stub := &StubProvider{Responses: []string{"ok"}}
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}

	resp, err := p.Invoke(context.Background(), stub, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Text != "ok" || stub.Calls() != 1 {
		t.Errorf("resp = %q, calls = %d", resp.Text, stub.Calls())
	}
}

func TestInvokeRetriesUntilSuccess(t *testing.T) {
	stub := &StubProvider{
		Err:       errors.New("rate limited"),
		FailCount: 2,
		Responses: []string{"recovered"},
	}
	var attempts []int
	p := RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		OnRetry:           func(err error, attempt int) { attempts = append(attempts, attempt) },
	}

	resp, err := p.Invoke(context.Background(), stub, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Text != "recovered" {
		t.Errorf("resp = %q", resp.Text)
	}
	if stub.Calls() != 3 {
		t.Errorf("calls = %d, want 3", stub.Calls())
	}
	if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 1 {
		t.Errorf("OnRetry attempts = %v, want [0 1]", attempts)
	}
}

func TestInvokeExhaustsBudget(t *testing.T) {
	wantErr := errors.New("hard down")
	stub := &StubProvider{Err: wantErr}
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}

	_, err := p.Invoke(context.Background(), stub, Request{Prompt: "hi"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Invoke = %v, want the last provider error", err)
	}
	if stub.Calls() != 3 {
		t.Errorf("calls = %d, want initial + 2 retries", stub.Calls())
	}
}

func TestInvokeHonorsContext(t *testing.T) {
	stub := &StubProvider{Err: errors.New("down")}
	p := RetryPolicy{MaxRetries: 10, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Invoke(ctx, stub, Request{Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Invoke = %v, want context.Canceled", err)
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want 1 before cancellation", stub.Calls())
	}
}
