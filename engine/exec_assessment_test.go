// ABOUTME: Tests for the assessment executor's deterministic answer-key scoring.
package engine

import (
	"context"
	"errors"
	"testing"
)

func assessmentNode(key map[string]any) *Node {
	return testNode("quiz", NodeAssessment, map[string]any{
		"answerKey":     key,
		"responsesFrom": "responses",
	})
}

func TestAssessmentScoresResponses(t *testing.T) {
	node := assessmentNode(map[string]any{
		"q1": "paris",
		"q2": 4.0,
		"q3": "blue",
	})
	rc := NewRunContext(map[string]any{
		"responses": map[string]any{
			"q1": "Paris", // case-insensitive match
			"q2": "4",     // numeric string matches number
			"q3": "red",   // wrong
		},
	})

	out, err := (&AssessmentExecutor{}).Execute(context.Background(), node, nil, rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	m := out.Value.(map[string]any)
	if m["score"] != 67.0 {
		t.Errorf("score = %v, want 67 (2/3 rounded)", m["score"])
	}
	if m["correct"] != 2 || m["total"] != 3 {
		t.Errorf("correct/total = %v/%v", m["correct"], m["total"])
	}
	breakdown := m["breakdown"].(map[string]any)
	if breakdown["q1"] != true || breakdown["q3"] != false {
		t.Errorf("breakdown = %v", breakdown)
	}
}

func TestAssessmentUnansweredIsWrong(t *testing.T) {
	node := assessmentNode(map[string]any{"q1": "a", "q2": "b"})
	rc := NewRunContext(map[string]any{
		"responses": map[string]any{"q1": "a"},
	})

	out, err := (&AssessmentExecutor{}).Execute(context.Background(), node, nil, rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Value.(map[string]any)["score"] != 50.0 {
		t.Errorf("score = %v, want 50", out.Value.(map[string]any)["score"])
	}
}

func TestAssessmentMissingResponsesBinding(t *testing.T) {
	node := assessmentNode(map[string]any{"q1": "a"})

	out, err := (&AssessmentExecutor{}).Execute(context.Background(), node, nil, NewRunContext(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeFail {
		t.Errorf("outcome = %+v, want failure for missing responses", out)
	}
}

func TestAssessmentNonMapResponses(t *testing.T) {
	node := assessmentNode(map[string]any{"q1": "a"})
	rc := NewRunContext(map[string]any{"responses": "free text"})

	out, err := (&AssessmentExecutor{}).Execute(context.Background(), node, nil, rc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Kind != OutcomeFail {
		t.Errorf("outcome = %+v, want failure for non-map responses", out)
	}
}

func TestAssessmentRequiresAnswerKey(t *testing.T) {
	node := testNode("quiz", NodeAssessment, map[string]any{"responsesFrom": "responses"})

	_, err := (&AssessmentExecutor{}).Execute(context.Background(), node, nil, NewRunContext(nil))
	var cfg *NodeConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("Execute = %v, want NodeConfigurationError", err)
	}
}
