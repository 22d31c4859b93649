// ABOUTME: Human-in-loop executor: suspends the path with a prompt and a deadline.
// ABOUTME: Resumption, timeout defaults, and HumanInputTimeout are handled at the scheduler's park point.
package engine

import (
	"context"
	"time"
)

// defaultHumanTimeoutMinutes bounds a checkpoint that a document leaves open.
const defaultHumanTimeoutMinutes = 60

// HumanInputExecutor handles human checkpoint nodes. It never produces a
// value itself: it asks the scheduler to park the path until the collaborator
// provides input or the deadline elapses.
type HumanInputExecutor struct{}

func (e *HumanInputExecutor) Type() NodeType {
	return NodeHumanInput
}

func (e *HumanInputExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prompt := dataString(node, "prompt", "")
	if prompt == "" {
		prompt = dataString(node, "label", "Input required")
	}

	minutes := dataInt(node, "timeoutMinutes", defaultHumanTimeoutMinutes)
	if minutes < 1 {
		minutes = 1
	}

	return SuspendFor(prompt, time.Now().Add(time.Duration(minutes)*time.Minute)), nil
}
