// ABOUTME: Parallel executor: concurrent branch fan-out on isolated context clones with four merge strategies.
// ABOUTME: The merge barrier is the only cross-branch synchronization point; branch cancellation is owned here.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mergeStrategies accepted by parallel nodes.
const (
	mergeWaitAll        = "wait-all"
	mergeFirstComplete  = "first-complete"
	mergeCombineOutputs = "combine-outputs"
	mergeBestResult     = "best-result"
)

// branchResult is the outcome of one branch chain.
type branchResult struct {
	index     int
	value     any
	branchCtx *RunContext
	err       error
	cancelled bool
}

// ParallelExecutor dispatches the branch-<i> subgraphs concurrently, each on
// a cloned run context, and reduces their outputs per the merge strategy.
type ParallelExecutor struct {
	sched *Scheduler
}

func (e *ParallelExecutor) Type() NodeType {
	return NodeParallel
}

func (e *ParallelExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if e.sched == nil {
		return nil, fmt.Errorf("parallel executor not wired to a scheduler")
	}

	ports := e.sched.graph.BranchPorts(node.ID)
	if len(ports) == 0 {
		return nil, configErr(node, "branches", "parallel node has no branch-<i> edges")
	}

	strategy := dataString(node, "mergeStrategy", mergeWaitAll)
	switch strategy {
	case mergeWaitAll, mergeFirstComplete, mergeCombineOutputs, mergeBestResult:
	default:
		return nil, configErr(node, "mergeStrategy", "unknown strategy %q", strategy)
	}
	continueOnFailure := dataBool(node, "continueOnBranchFailure", false)
	timeout := time.Duration(dataInt(node, "timeoutSeconds", 0)) * time.Second

	// shared cancel lets one branch's result retire the others
	// (first-complete win, or fail-fast under wait-all)
	groupCtx, cancelGroup := context.WithCancel(ctx)
	defer cancelGroup()

	results := make([]branchResult, len(ports))
	var wg sync.WaitGroup

	for i, port := range ports {
		edges := e.sched.graph.OutgoingFromPort(node.ID, port)
		start := edges[0].Target

		wg.Add(1)
		go func(idx int, startID string) {
			defer wg.Done()

			branchCtx := groupCtx
			var cancelBranch context.CancelFunc
			if timeout > 0 {
				branchCtx, cancelBranch = context.WithTimeout(groupCtx, timeout)
				defer cancelBranch()
			}

			forked := rc.Clone()
			value, err := e.sched.runChain(branchCtx, startID, forked)

			res := branchResult{index: idx, value: value, branchCtx: forked, err: err}
			if err != nil && groupCtx.Err() != nil && ctx.Err() == nil {
				// retired by a sibling, not a real failure
				res.cancelled = true
			}
			results[idx] = res

			switch {
			case err == nil && strategy == mergeFirstComplete:
				cancelGroup()
			case err != nil && !res.cancelled && !continueOnFailure && strategy == mergeWaitAll:
				cancelGroup()
			}
		}(i, start)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.merge(node, rc, results, strategy, continueOnFailure)
}

// merge reduces branch results into one outcome. Only merged-in branches
// contribute bindings to the parent context; cancelled and failed branches
// never do.
func (e *ParallelExecutor) merge(node *Node, rc *RunContext, results []branchResult, strategy string, continueOnFailure bool) (*Outcome, error) {
	var succeeded []branchResult
	var firstFailure *branchResult
	for i := range results {
		r := &results[i]
		switch {
		case r.cancelled:
		case r.err != nil:
			if firstFailure == nil {
				firstFailure = r
			}
		default:
			succeeded = append(succeeded, *r)
		}
	}

	switch strategy {
	case mergeFirstComplete:
		if len(succeeded) == 0 {
			return Failure(fmt.Errorf("parallel %q: all branches failed: %w", node.ID, firstErr(results))), nil
		}
		winner := succeeded[0]
		rc.MergeFrom(winner.branchCtx)
		return Output(winner.value), nil

	case mergeWaitAll:
		if firstFailure != nil && !continueOnFailure {
			return Failure(fmt.Errorf("parallel %q: branch %d failed: %w", node.ID, firstFailure.index, firstFailure.err)), nil
		}
		if len(succeeded) == 0 {
			return Failure(fmt.Errorf("parallel %q: no branch completed: %w", node.ID, firstErr(results))), nil
		}
		for _, r := range succeeded {
			rc.MergeFrom(r.branchCtx)
		}
		return Output(orderedOutputs(results)), nil

	case mergeCombineOutputs:
		if firstFailure != nil && !continueOnFailure {
			return Failure(fmt.Errorf("parallel %q: branch %d failed: %w", node.ID, firstFailure.index, firstFailure.err)), nil
		}
		if len(succeeded) == 0 {
			return Failure(fmt.Errorf("parallel %q: no branch completed: %w", node.ID, firstErr(results))), nil
		}
		for _, r := range succeeded {
			rc.MergeFrom(r.branchCtx)
		}
		return Output(orderedOutputs(results)), nil

	case mergeBestResult:
		if len(succeeded) == 0 {
			return Failure(fmt.Errorf("parallel %q: all branches failed: %w", node.ID, firstErr(results))), nil
		}
		best := pickBest(succeeded, dataString(node, "comparatorKey", ""))
		rc.MergeFrom(best.branchCtx)
		return Output(best.value), nil
	}

	return nil, configErr(node, "mergeStrategy", "unknown strategy %q", strategy)
}

// orderedOutputs is the combine collection: branch outputs keyed by branch
// index, nil for branches that contributed nothing.
func orderedOutputs(results []branchResult) []any {
	out := make([]any, len(results))
	for i, r := range results {
		if r.err == nil && !r.cancelled {
			out[i] = r.value
		}
	}
	return out
}

// pickBest selects the successful branch with the highest numeric value at
// comparatorKey in its output map. Without a comparator, or when no output
// exposes it, the first successful branch by branch order wins.
func pickBest(succeeded []branchResult, comparatorKey string) branchResult {
	best := succeeded[0]
	if comparatorKey == "" {
		return best
	}

	bestScore, haveBest := comparatorScore(best.value, comparatorKey)
	for _, r := range succeeded[1:] {
		score, ok := comparatorScore(r.value, comparatorKey)
		if !ok {
			continue
		}
		if !haveBest || score > bestScore {
			best, bestScore, haveBest = r, score, true
		}
	}
	return best
}

// comparatorScore reads a numeric comparator from a branch output.
func comparatorScore(v any, key string) (float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return numericValue(v)
	}
	inner, ok := m[key]
	if !ok {
		return 0, false
	}
	return numericValue(inner)
}

// firstErr returns the first real branch error by index, for failure reasons.
func firstErr(results []branchResult) error {
	for _, r := range results {
		if r.err != nil && !r.cancelled {
			return r.err
		}
	}
	return fmt.Errorf("no branch output")
}
