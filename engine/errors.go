// ABOUTME: Error taxonomy for the execution engine: graph, configuration, execution, timeout, cancellation.
// ABOUTME: All types support errors.Is/errors.As so construct policies can absorb or escalate precisely.
package engine

import (
	"errors"
	"fmt"
)

// GraphIntegrityError reports a malformed graph document. It is fatal and is
// always raised before any node is dispatched.
type GraphIntegrityError struct {
	Reason string
}

func (e *GraphIntegrityError) Error() string {
	return "graph integrity: " + e.Reason
}

// NodeConfigurationError reports a node whose data does not satisfy the shape
// contract for its type (e.g. an until-mastery loop without masteryThreshold).
// Fatal for the node; recoverable for the run only when the enclosing
// construct declares an absorbing policy.
type NodeConfigurationError struct {
	NodeID string
	Field  string
	Reason string
}

func (e *NodeConfigurationError) Error() string {
	return fmt.Sprintf("node %q configuration: %s (%s)", e.NodeID, e.Field, e.Reason)
}

// ExecutionError reports an executor runtime failure, such as an unreachable
// provider. Subject to retry/fallback per node type before it escalates.
type ExecutionError struct {
	NodeID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q execution: %v", e.NodeID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// HumanInputTimeout reports a suspension deadline that elapsed with no
// provided input and no configured default.
type HumanInputTimeout struct {
	NodeID string
}

func (e *HumanInputTimeout) Error() string {
	return fmt.Sprintf("node %q: human input deadline elapsed", e.NodeID)
}

// Sentinel errors for run-level conditions.
var (
	// ErrRunCancelled is the failure reason recorded when a run is cancelled
	// by external request.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrNoMatchingRoute is returned by a router when no route condition
	// matches and no default route is configured.
	ErrNoMatchingRoute = errors.New("no matching route and no default route")

	// ErrRunNotFound is returned by the Runner for unknown run ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrNotSuspended is returned when input is provided for a node that is
	// not awaiting any.
	ErrNotSuspended = errors.New("node is not awaiting input")
)
