// ABOUTME: Loop executor: bounded sequential re-dispatch of a body subgraph with four stop modes.
// ABOUTME: Exhausting maxIterations never fails the run; the loop exits via loop-complete with the last output.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Loop iteration bounds: the default when maxIterations is absent, and the
// hard cap that keeps worst-case run length bounded no matter what the
// document says.
const (
	defaultMaxIterations = 10
	hardMaxIterations    = 100
)

// loopTypes accepted by loop nodes.
const (
	loopCount          = "count"
	loopUntilMastery   = "until-mastery"
	loopForeachItem    = "foreach-item"
	loopUntilCondition = "until-condition"
)

// LoopExecutor re-dispatches the body subgraph reached via the loop-body port.
type LoopExecutor struct {
	sched *Scheduler
}

func (e *LoopExecutor) Type() NodeType {
	return NodeLoop
}

// Execute runs the body until the loop type's stop condition holds or
// maxIterations is reached, whichever comes first, then branches to
// loop-complete carrying the last body output.
func (e *LoopExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if e.sched == nil {
		return nil, fmt.Errorf("loop executor not wired to a scheduler")
	}

	bodyEdges := e.sched.graph.OutgoingFromPort(node.ID, PortLoopBody)
	if len(bodyEdges) == 0 {
		return nil, configErr(node, "loop-body", "loop has no body edge")
	}
	bodyStart := bodyEdges[0].Target

	loopType := dataString(node, "loopType", loopCount)
	maxIter := dataInt(node, "maxIterations", defaultMaxIterations)
	if maxIter < 1 {
		maxIter = 1
	}
	if maxIter > hardMaxIterations {
		maxIter = hardMaxIterations
	}
	iterVar := dataString(node, "iterationVariable", "iteration")
	continueOnError := dataBool(node, "continueOnError", false)
	delay := time.Duration(dataInt(node, "delayBetweenIterations", 0)) * time.Second

	var masteryThreshold float64
	var condition string
	var items []any

	switch loopType {
	case loopCount:
	case loopUntilMastery:
		t, ok := dataFloat(node, "masteryThreshold")
		if !ok {
			return nil, configErr(node, "masteryThreshold", "mandatory for until-mastery loops")
		}
		masteryThreshold = t
	case loopUntilCondition:
		condition = dataString(node, "condition", "")
		if !ValidateConditionSyntax(condition) || condition == "" {
			return nil, configErr(node, "condition", "until-condition loop needs a valid condition")
		}
	case loopForeachItem:
		itemsFrom := dataString(node, "itemsFrom", "")
		if itemsFrom == "" {
			return nil, configErr(node, "itemsFrom", "foreach-item loop needs a source binding name")
		}
		bound, ok := rc.Read(itemsFrom)
		if !ok {
			return nil, configErr(node, "itemsFrom", "binding %q is not set", itemsFrom)
		}
		items, ok = asSequence(bound)
		if !ok {
			return nil, configErr(node, "itemsFrom", "binding %q is not a sequence", itemsFrom)
		}
		if len(items) < maxIter {
			maxIter = len(items)
		}
	default:
		return nil, configErr(node, "loopType", "unknown loop type %q", loopType)
	}

	itemVar := dataString(node, "itemVariable", "item")

	var lastOutput any
	for iteration := 1; iteration <= maxIter; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if iteration > 1 {
			sleepWithContext(ctx, delay)
		}

		rc.Write(iterVar, iteration)
		if loopType == loopForeachItem {
			rc.Write(itemVar, items[iteration-1])
		}
		e.sched.emit(EventLoopIteration, node.ID, map[string]any{"iteration": iteration})

		output, err := e.sched.runChain(ctx, bodyStart, rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if continueOnError {
				continue
			}
			return Failure(err), nil
		}
		lastOutput = output

		switch loopType {
		case loopUntilMastery:
			if score, ok := numericValue(output); ok && score >= masteryThreshold {
				return BranchTo(PortLoopComplete, lastOutput), nil
			}
		case loopUntilCondition:
			if EvaluateCondition(condition, rc) {
				return BranchTo(PortLoopComplete, lastOutput), nil
			}
		}
	}

	// iterations exhausted without the stop condition: downstream still
	// receives the last output rather than a failure
	return BranchTo(PortLoopComplete, lastOutput), nil
}

// asSequence normalizes a binding to a []any sequence.
func asSequence(v any) ([]any, bool) {
	switch seq := v.(type) {
	case []any:
		return seq, true
	case []string:
		out := make([]any, len(seq))
		for i, s := range seq {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(seq))
		for i, f := range seq {
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// numericValue extracts a number from a body output: a bare number, a
// numeric string, or a map with a "score" entry (the assessment output shape).
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case map[string]any:
		if score, ok := n["score"]; ok {
			return numericValue(score)
		}
	}
	return 0, false
}
