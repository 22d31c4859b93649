// ABOUTME: Shared test doubles for the engine package: configurable fake executors and graph builders.
// ABOUTME: Tests replace registry entries per node type to script outcomes deterministically.
package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testExecutor is a configurable NodeExecutor that returns preset outcomes.
type testExecutor struct {
	nodeType  NodeType
	executeFn func(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error)

	mu         sync.Mutex
	callCount  int
	calledWith []string
}

func (e *testExecutor) Type() NodeType { return e.nodeType }

func (e *testExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	e.mu.Lock()
	e.callCount++
	e.calledWith = append(e.calledWith, node.ID)
	e.mu.Unlock()
	if e.executeFn != nil {
		return e.executeFn(ctx, node, inputs, rc)
	}
	return Output(node.ID + "-output"), nil
}

func (e *testExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

func (e *testExecutor) visited() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calledWith))
	copy(out, e.calledWith)
	return out
}

// newValueExecutor returns an executor producing a fixed value for every node.
func newValueExecutor(t NodeType, value any) *testExecutor {
	return &testExecutor{
		nodeType: t,
		executeFn: func(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
			return Output(value), nil
		},
	}
}

// testNode builds a node for graph construction.
func testNode(id string, t NodeType, data map[string]any) *Node {
	return &Node{ID: id, Type: t, Data: data}
}

// testEdge builds an edge; port "" means the default output port.
func testEdge(src, port, dst string) *Edge {
	return &Edge{Source: src, SourcePort: port, Target: dst}
}

// mustGraph builds a graph or fails the test.
func mustGraph(t *testing.T, nodes []*Node, edges []*Edge, entry string) *Graph {
	t.Helper()
	g, err := BuildGraph(nodes, edges, entry)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return g
}

// testRegistry creates a registry holding the given executors.
func testRegistry(execs ...NodeExecutor) *Registry {
	reg := NewRegistry()
	for _, ex := range execs {
		reg.Register(ex)
	}
	return reg
}

// runToEnd runs the graph on a fresh context and emitter and returns the run
// state, event history, and terminal error.
func runToEnd(t *testing.T, g *Graph, reg *Registry, bindings map[string]any) (*RunContext, []Event, error) {
	t.Helper()
	rc := NewRunContext(bindings)
	em := NewEmitter("test-run")
	sched := NewScheduler("test-run", g, reg, em, rc)
	err := sched.Run(context.Background())
	return rc, em.History(), err
}

// waitFor polls until the predicate holds or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v", timeout)
}

// eventKinds projects history onto its kinds.
func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// hasEvent reports whether any event has the given kind.
func hasEvent(events []Event, kind EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
