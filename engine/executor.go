// ABOUTME: Executor capability interface, outcome variants, and the type-keyed executor registry.
// ABOUTME: Also holds the node data accessors shared by the per-type executors.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// OutcomeKind tags the variant of an execution outcome.
type OutcomeKind string

const (
	OutcomeOutput  OutcomeKind = "output"
	OutcomeBranch  OutcomeKind = "branch"
	OutcomeSuspend OutcomeKind = "suspend"
	OutcomeFail    OutcomeKind = "fail"
)

// Outcome is the result of executing one node: a produced value, a selected
// branch port (optionally carrying a value), a suspension request, or a
// failure.
type Outcome struct {
	Kind     OutcomeKind
	Value    any
	Port     string
	Reason   string
	Deadline time.Time
	Err      error
}

// Output returns an outcome carrying a produced value.
func Output(value any) *Outcome {
	return &Outcome{Kind: OutcomeOutput, Value: value}
}

// BranchTo returns an outcome selecting a specific output port. value may be
// nil; when non-nil it is bound as the node's output (a loop's last body
// output travels this way).
func BranchTo(port string, value any) *Outcome {
	return &Outcome{Kind: OutcomeBranch, Port: port, Value: value}
}

// SuspendFor returns an outcome that parks the path until external input
// arrives or the deadline elapses.
func SuspendFor(reason string, deadline time.Time) *Outcome {
	return &Outcome{Kind: OutcomeSuspend, Reason: reason, Deadline: deadline}
}

// Failure returns a failing outcome.
func Failure(err error) *Outcome {
	return &Outcome{Kind: OutcomeFail, Err: err}
}

// Inputs holds the values assembled from a node's bound upstream outputs,
// keyed by source node id. When several upstream nodes feed one port,
// last-writer-by-dispatch-order wins.
type Inputs map[string]any

// First returns the single upstream value when exactly one exists, used by
// executors that consume one input.
func (in Inputs) First() (any, bool) {
	if len(in) != 1 {
		return nil, false
	}
	for _, v := range in {
		return v, true
	}
	return nil, false
}

// NodeExecutor is the capability implemented by every node type.
type NodeExecutor interface {
	// Type returns the node type this executor runs.
	Type() NodeType

	// Execute runs the node. ctx carries cancellation; inputs are the bound
	// upstream outputs; rc is the run's mutable state.
	Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error)
}

// Registry maps node types to the executor that can run them.
type Registry struct {
	executors map[NodeType]NodeExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[NodeType]NodeExecutor)}
}

// Register adds an executor, keyed by its Type. Re-registering a type
// replaces the previous executor.
func (r *Registry) Register(ex NodeExecutor) {
	r.executors[ex.Type()] = ex
}

// Get returns the executor for the given type, or nil if none is registered.
func (r *Registry) Get(t NodeType) NodeExecutor {
	return r.executors[t]
}

// --- node data accessors ---

// dataString reads a string field from node data, with a default.
func dataString(n *Node, key, def string) string {
	if n.Data == nil {
		return def
	}
	if s, ok := n.Data[key].(string); ok && s != "" {
		return s
	}
	return def
}

// dataFloat reads a numeric field from node data. JSON numbers decode as
// float64; string and int forms are accepted for documents produced by hand.
func dataFloat(n *Node, key string) (float64, bool) {
	if n.Data == nil {
		return 0, false
	}
	switch v := n.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// dataInt reads an integer field from node data, with a default.
func dataInt(n *Node, key string, def int) int {
	f, ok := dataFloat(n, key)
	if !ok {
		return def
	}
	return int(f)
}

// dataBool reads a boolean field from node data, with a default.
func dataBool(n *Node, key string, def bool) bool {
	if n.Data == nil {
		return def
	}
	switch v := n.Data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}

// configErr builds a NodeConfigurationError for a node field.
func configErr(n *Node, field, format string, args ...any) *NodeConfigurationError {
	return &NodeConfigurationError{
		NodeID: n.ID,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}
