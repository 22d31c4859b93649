// ABOUTME: Assessment executor: deterministic scoring of a learner response map against an answer key.
// ABOUTME: Produces the numeric score that until-mastery loops and performance routers consume.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// AssessmentExecutor grades responses. It never judges content quality; it
// compares answers mechanically so results are reproducible.
type AssessmentExecutor struct{}

func (e *AssessmentExecutor) Type() NodeType {
	return NodeAssessment
}

// Execute reads the learner's responses from the binding named by
// responsesFrom and scores them against answerKey. Output:
// {score (0-100), correct, total, breakdown}.
func (e *AssessmentExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, ok := node.Data["answerKey"].(map[string]any)
	if !ok || len(key) == 0 {
		return nil, configErr(node, "answerKey", "assessment requires a non-empty answer key")
	}

	responsesFrom := dataString(node, "responsesFrom", "")
	if responsesFrom == "" {
		return nil, configErr(node, "responsesFrom", "assessment needs a source binding name")
	}
	bound, ok := rc.Read(responsesFrom)
	if !ok {
		return Failure(&ExecutionError{
			NodeID: node.ID,
			Err:    fmt.Errorf("responses binding %q is not set", responsesFrom),
		}), nil
	}
	responses, ok := bound.(map[string]any)
	if !ok {
		return Failure(&ExecutionError{
			NodeID: node.ID,
			Err:    fmt.Errorf("responses binding %q is not a map", responsesFrom),
		}), nil
	}

	correct := 0
	breakdown := make(map[string]any, len(key))
	for item, expected := range key {
		got, answered := responses[item]
		pass := answered && answersMatch(expected, got)
		if pass {
			correct++
		}
		breakdown[item] = pass
	}

	score := math.Round(float64(correct) / float64(len(key)) * 100)
	return Output(map[string]any{
		"score":     score,
		"correct":   correct,
		"total":     len(key),
		"breakdown": breakdown,
	}), nil
}

// answersMatch compares an expected answer with a response: numerically when
// both sides are numbers, case-insensitively otherwise.
func answersMatch(expected, got any) bool {
	en, eok := numericValue(expected)
	gn, gok := numericValue(got)
	if eok && gok {
		return en == gn
	}
	return strings.EqualFold(
		strings.TrimSpace(fmt.Sprintf("%v", expected)),
		strings.TrimSpace(fmt.Sprintf("%v", got)),
	)
}
