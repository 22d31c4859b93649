// ABOUTME: Execution scheduler: walks the graph from the entry node, dispatching ready nodes and
// ABOUTME: interpreting outcomes for branching, loops, parallel fan-out, suspension, and failure.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// maxSchedulerIterations guards against malformed graphs that keep producing
// ready nodes. Loop bounds are enforced separately by the loop executor.
const maxSchedulerIterations = 10000

// maxChainSteps bounds a single loop-body or parallel-branch chain walk.
const maxChainSteps = 1000

// Scheduler drives one run of a graph to a terminal state. It owns the
// run's ready set, branch pruning, and the suspension park points.
type Scheduler struct {
	runID    string
	graph    *Graph
	registry *Registry
	emitter  *Emitter
	rc       *RunContext

	mu         sync.Mutex
	deadEdges  map[*Edge]bool
	deadNodes  map[string]bool
	dispatched map[string]bool
}

// NewScheduler creates a scheduler for one run and wires itself into the
// structural executors (loop, parallel, AI) that need to dispatch subgraphs
// or emit streaming events.
func NewScheduler(runID string, graph *Graph, registry *Registry, emitter *Emitter, rc *RunContext) *Scheduler {
	s := &Scheduler{
		runID:      runID,
		graph:      graph,
		registry:   registry,
		emitter:    emitter,
		rc:         rc,
		deadEdges:  make(map[*Edge]bool),
		deadNodes:  make(map[string]bool),
		dispatched: make(map[string]bool),
	}

	if le, ok := registry.Get(NodeLoop).(*LoopExecutor); ok {
		le.sched = s
	}
	if pe, ok := registry.Get(NodeParallel).(*ParallelExecutor); ok {
		pe.sched = s
	}
	if ae, ok := registry.Get(NodeAIModel).(*AIModelExecutor); ok {
		ae.sched = s
	}

	return s
}

// Context returns the run context owned by this scheduler's run.
func (s *Scheduler) Context() *RunContext {
	return s.rc
}

// emit sends a lifecycle event if an emitter is configured.
func (s *Scheduler) emit(kind EventKind, nodeID string, payload map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(kind, nodeID, payload)
	}
}

// Run executes the graph to a terminal state. The returned error is non-nil
// for failed runs; the run context's status and failure description are
// always set before returning. The emitter is sealed after the terminal
// event, so no events are observable past cancellation or completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.rc.setStatus(StatusRunning)
	s.emit(EventRunStarted, "", map[string]any{"nodes": s.graph.NodeCount()})

	entry := s.graph.EntryNode()
	if entry == nil {
		return s.failRun("", &GraphIntegrityError{Reason: "no entry node"})
	}

	ready := []string{entry.ID}
	enqueued := map[string]bool{entry.ID: true}

	iterations := 0
	for len(ready) > 0 {
		iterations++
		if iterations > maxSchedulerIterations {
			return s.failRun("", fmt.Errorf("execution exceeded %d iterations, graph may be malformed", maxSchedulerIterations))
		}

		if ctx.Err() != nil {
			return s.cancelRun()
		}

		nodeID := ready[0]
		ready = ready[1:]
		node := s.graph.Node(nodeID)
		s.markDispatched(nodeID)

		outcome, err := s.dispatch(ctx, node, s.rc)
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelRun()
			}
			return s.failRun(nodeID, err)
		}

		var successors []*Edge
		var unblocked []string
		switch outcome.Kind {
		case OutcomeOutput:
			successors = s.liveEdges(s.graph.OutgoingFromPort(nodeID, PortDefault))
		case OutcomeBranch:
			unblocked = s.pruneExcept(node, outcome.Port)
			successors = s.liveEdges(s.graph.OutgoingFromPort(nodeID, outcome.Port))
		case OutcomeFail:
			// no absorbing construct at the top level: escalate
			failErr := outcome.Err
			if failErr == nil {
				failErr = fmt.Errorf("node %q failed", nodeID)
			}
			return s.failRun(nodeID, failErr)
		}

		enqueue := func(targetID string) {
			if enqueued[targetID] || s.isDispatched(targetID) {
				return
			}
			if s.inputsReady(targetID) {
				ready = append(ready, targetID)
				enqueued[targetID] = true
			}
		}
		for _, e := range successors {
			enqueue(e.Target)
		}
		// pruning can complete the ready set of a fan-in node scanned
		// earlier: its remaining live inputs may all be bound already
		for _, id := range unblocked {
			enqueue(id)
		}
	}

	if ctx.Err() != nil {
		return s.cancelRun()
	}

	s.rc.setStatus(StatusCompleted)
	s.emit(EventRunCompleted, "", nil)
	if s.emitter != nil {
		s.emitter.Close()
	}
	return nil
}

// failRun records the terminal failure, emits the terminal event, and seals
// the stream.
func (s *Scheduler) failRun(nodeID string, err error) error {
	s.rc.fail(nodeID, err.Error())
	payload := map[string]any{"reason": err.Error()}
	if nodeID != "" {
		payload["node_id"] = nodeID
	}
	s.emit(EventRunFailed, nodeID, payload)
	if s.emitter != nil {
		s.emitter.Close()
	}
	return err
}

// cancelRun transitions the run to Cancelled, releases pending input records,
// and seals the stream so no further events are emitted.
func (s *Scheduler) cancelRun() error {
	for _, p := range s.rc.Pending() {
		s.rc.clearPending(p.NodeID)
	}
	s.rc.setStatus(StatusCancelled)
	s.emit(EventRunCancelled, "", nil)
	if s.emitter != nil {
		s.emitter.Close()
	}
	return ErrRunCancelled
}

// dispatch runs one node: gathers inputs, invokes the executor with panic
// recovery, resolves suspensions by parking, and emits node lifecycle events.
// The returned outcome is Output, Branch, or Fail; Suspend never escapes.
// A Fail outcome is returned to the caller so the enclosing construct can
// apply its absorption policy; a non-nil error is never absorbable.
func (s *Scheduler) dispatch(ctx context.Context, node *Node, rc *RunContext) (*Outcome, error) {
	ex := s.registry.Get(node.Type)
	if ex == nil {
		return nil, configErr(node, "type", "no executor registered for type %q", node.Type)
	}

	inputs := s.gatherInputs(node, rc)
	visit := rc.RecordVisit(node.ID)
	s.emit(EventNodeStarted, node.ID, map[string]any{"visit": visit})

	outcome, err := safeExecute(ctx, ex, node, inputs, rc)
	if err != nil {
		s.emit(EventNodeFailed, node.ID, map[string]any{"reason": err.Error()})
		return nil, err
	}

	if outcome.Kind == OutcomeSuspend {
		outcome, err = s.park(ctx, node, rc, outcome)
		if err != nil {
			return nil, err
		}
	}

	switch outcome.Kind {
	case OutcomeOutput:
		rc.Write(node.ID, outcome.Value)
		s.emit(EventNodeCompleted, node.ID, nil)
	case OutcomeBranch:
		// a branch outcome binds its carried value, or the selected port id
		// so downstream readiness and conditions can observe the decision
		if outcome.Value != nil {
			rc.Write(node.ID, outcome.Value)
		} else {
			rc.Write(node.ID, outcome.Port)
		}
		s.emit(EventNodeCompleted, node.ID, map[string]any{"port": outcome.Port})
	case OutcomeFail:
		reason := "execution failed"
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		s.emit(EventNodeFailed, node.ID, map[string]any{"reason": reason})
	}

	return outcome, nil
}

// park suspends the current path on a human-input node until the external
// value arrives, the deadline elapses, or the run is cancelled. Sibling
// parallel branches keep progressing: only this path blocks.
func (s *Scheduler) park(ctx context.Context, node *Node, rc *RunContext, outcome *Outcome) (*Outcome, error) {
	pending := rc.Suspend(node.ID, outcome.Reason, outcome.Deadline)
	rc.setStatus(StatusSuspended)
	s.emit(EventRunSuspended, node.ID, map[string]any{
		"reason":   outcome.Reason,
		"ticket":   pending.TicketID,
		"deadline": outcome.Deadline,
	})

	timer := time.NewTimer(time.Until(outcome.Deadline))
	defer timer.Stop()

	select {
	case value := <-pending.resume:
		rc.setStatus(StatusRunning)
		s.emit(EventRunResumed, node.ID, map[string]any{"ticket": pending.TicketID})
		return Output(value), nil

	case <-timer.C:
		rc.clearPending(node.ID)
		if def, ok := node.Data["defaultOnTimeout"]; ok {
			rc.setStatus(StatusRunning)
			s.emit(EventRunResumed, node.ID, map[string]any{"ticket": pending.TicketID, "timed_out": true})
			return Output(def), nil
		}
		timeoutErr := &HumanInputTimeout{NodeID: node.ID}
		s.emit(EventNodeFailed, node.ID, map[string]any{"reason": timeoutErr.Error()})
		return nil, timeoutErr

	case <-ctx.Done():
		rc.clearPending(node.ID)
		return nil, ctx.Err()
	}
}

// gatherInputs assembles a node's inputs from the bindings of its live
// upstream nodes in declaration order. Later writers win, mirroring
// single-valued ports.
func (s *Scheduler) gatherInputs(node *Node, rc *RunContext) Inputs {
	inputs := make(Inputs)
	for _, e := range s.graph.IncomingEdges(node.ID) {
		if s.isDeadEdge(e) {
			continue
		}
		if v, ok := rc.Read(e.Source); ok {
			inputs[e.Source] = v
		}
	}
	return inputs
}

// inputsReady reports topological readiness: every live incoming edge's
// source is bound.
func (s *Scheduler) inputsReady(nodeID string) bool {
	for _, e := range s.graph.IncomingEdges(nodeID) {
		if s.isDeadEdge(e) {
			continue
		}
		if _, ok := s.rc.Read(e.Source); !ok {
			return false
		}
	}
	return true
}

// liveEdges filters pruned edges out, preserving declaration order.
func (s *Scheduler) liveEdges(edges []*Edge) []*Edge {
	var result []*Edge
	for _, e := range edges {
		if !s.isDeadEdge(e) {
			result = append(result, e)
		}
	}
	return result
}

// pruneExcept marks every outgoing edge of the node except those from the
// selected port as dead for this run. Death propagates: a node whose every
// incoming edge is dead will never dispatch and never counts toward
// readiness or merges. Returns the surviving fan-in targets that lost an
// input; losing a dead input can be what completes their ready set.
func (s *Scheduler) pruneExcept(node *Node, selectedPort string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var unblocked []string
	for _, e := range s.graph.OutgoingEdges(node.ID) {
		if e.SourcePort != selectedPort {
			unblocked = s.markDeadLocked(e, unblocked)
		}
	}
	return unblocked
}

// markDeadLocked marks an edge dead and propagates death to unreachable
// nodes, accumulating the live targets whose input set shrank. Caller
// holds s.mu.
func (s *Scheduler) markDeadLocked(e *Edge, unblocked []string) []string {
	if s.deadEdges[e] {
		return unblocked
	}
	s.deadEdges[e] = true

	target := e.Target
	if s.deadNodes[target] {
		return unblocked
	}
	for _, in := range s.graph.IncomingEdges(target) {
		if !s.deadEdges[in] {
			return append(unblocked, target)
		}
	}
	s.deadNodes[target] = true
	for _, out := range s.graph.OutgoingEdges(target) {
		unblocked = s.markDeadLocked(out, unblocked)
	}
	return unblocked
}

func (s *Scheduler) isDeadEdge(e *Edge) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadEdges[e]
}

func (s *Scheduler) markDispatched(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched[nodeID] = true
}

func (s *Scheduler) isDispatched(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched[nodeID]
}

// runChain walks a loop body or parallel branch: a linear path dispatched
// through the same machinery as the top level, following one live edge per
// step until the path ends. Routers and nested constructs are legal inside a
// chain; general fan-in is not. Returns the last produced value.
func (s *Scheduler) runChain(ctx context.Context, startNodeID string, rc *RunContext) (any, error) {
	currentID := startNodeID
	var last any

	for step := 0; step < maxChainSteps; step++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		node := s.graph.Node(currentID)
		if node == nil {
			return nil, fmt.Errorf("chain node %q not found in graph", currentID)
		}

		outcome, err := s.dispatch(ctx, node, rc)
		if err != nil {
			return nil, err
		}

		var next []*Edge
		switch outcome.Kind {
		case OutcomeOutput:
			last = outcome.Value
			next = s.liveEdges(s.graph.OutgoingFromPort(currentID, PortDefault))
		case OutcomeBranch:
			if outcome.Value != nil {
				last = outcome.Value
			} else {
				last = outcome.Port
			}
			// a route decision inside a chain binds to this dispatch only.
			// The run-level dead set stays untouched so the next loop
			// iteration can select a different port; the chain never walks
			// an unselected port, so no marks are needed here.
			next = s.liveEdges(s.graph.OutgoingFromPort(currentID, outcome.Port))
		case OutcomeFail:
			err := outcome.Err
			if err == nil {
				err = fmt.Errorf("node %q failed", currentID)
			}
			return nil, &ExecutionError{NodeID: currentID, Err: err}
		}

		if len(next) == 0 {
			return last, nil
		}
		currentID = next[0].Target
	}

	return nil, fmt.Errorf("chain from %q exceeded %d steps", startNodeID, maxChainSteps)
}

// safeExecute wraps executor invocation with panic recovery so one
// misbehaving executor cannot take down the whole run.
func safeExecute(ctx context.Context, ex NodeExecutor, node *Node, inputs Inputs, rc *RunContext) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic in node %q: %v\n%s", node.ID, r, debug.Stack())
			outcome = nil
		}
	}()
	return ex.Execute(ctx, node, inputs, rc)
}

// sleepWithContext sleeps for d unless the context is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
