// ABOUTME: Per-run mutable state: variable bindings, visit counts, suspension records, and run status.
// ABOUTME: Branch clones fork bindings for isolation but share the suspension registry and run status.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSuspended RunStatus = "suspended"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal value. A RunContext is
// treated as immutable once its status is terminal.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PendingInput records one suspended node awaiting human input.
type PendingInput struct {
	NodeID   string
	TicketID string
	Reason   string
	Deadline time.Time

	// resume delivers the externally provided value to the parked path.
	resume chan any
}

// runShared holds state common to a run and all of its branch clones:
// suspension records, status, and the terminal failure description.
type runShared struct {
	mu            sync.RWMutex
	status        RunStatus
	pending       map[string]*PendingInput
	failureReason string
	failedNode    string
}

// RunContext is the mutable per-execution state. It is owned by exactly one
// run; no two runs share bindings. All mutation is funneled through the
// scheduler, so bindings of distinct node ids never race across parallel
// branches (each branch works on a clone until the merge step).
type RunContext struct {
	mu       sync.RWMutex
	bindings map[string]any
	visited  map[string]int
	shared   *runShared
}

// NewRunContext creates a run context seeded with the given initial bindings.
func NewRunContext(initial map[string]any) *RunContext {
	rc := &RunContext{
		bindings: make(map[string]any, len(initial)),
		visited:  make(map[string]int),
		shared: &runShared{
			status:  StatusRunning,
			pending: make(map[string]*PendingInput),
		},
	}
	for k, v := range initial {
		rc.bindings[k] = v
	}
	return rc
}

// Read returns the last-produced output bound under the given node id or
// variable name, and whether it exists.
func (rc *RunContext) Read(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.bindings[key]
	return v, ok
}

// Write binds a value under the given node id or variable name.
func (rc *RunContext) Write(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.bindings[key] = value
}

// RecordVisit increments and returns the dispatch count for a node.
func (rc *RunContext) RecordVisit(nodeID string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.visited[nodeID]++
	return rc.visited[nodeID]
}

// Visits returns the dispatch count for a node.
func (rc *RunContext) Visits(nodeID string) int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.visited[nodeID]
}

// Snapshot returns a shallow copy of all bindings.
func (rc *RunContext) Snapshot() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	snap := make(map[string]any, len(rc.bindings))
	for k, v := range rc.bindings {
		snap[k] = v
	}
	return snap
}

// Clone forks the context for an isolated parallel branch. Bindings and visit
// counts are copied; the suspension registry and run status stay shared so a
// human gate inside a branch is still reachable through the run's API.
func (rc *RunContext) Clone() *RunContext {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	cloned := &RunContext{
		bindings: make(map[string]any, len(rc.bindings)),
		visited:  make(map[string]int, len(rc.visited)),
		shared:   rc.shared,
	}
	for k, v := range rc.bindings {
		cloned.bindings[k] = v
	}
	for k, v := range rc.visited {
		cloned.visited[k] = v
	}
	return cloned
}

// MergeFrom applies another context's bindings into this one,
// last-writer-wins. Used at a parallel node's merge barrier, the sole
// cross-branch synchronization point.
func (rc *RunContext) MergeFrom(branch *RunContext) {
	snap := branch.Snapshot()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	for k, v := range snap {
		rc.bindings[k] = v
	}
}

// Suspend registers a pending human-input record for the node and returns it.
// The record's channel delivers the value provided through Resume.
func (rc *RunContext) Suspend(nodeID, reason string, deadline time.Time) *PendingInput {
	p := &PendingInput{
		NodeID:   nodeID,
		TicketID: uuid.NewString(),
		Reason:   reason,
		Deadline: deadline,
		resume:   make(chan any, 1),
	}
	rc.shared.mu.Lock()
	rc.shared.pending[nodeID] = p
	rc.shared.mu.Unlock()
	return p
}

// Resume delivers an externally provided value to a suspended node. Returns
// ErrNotSuspended if the node has no pending record.
func (rc *RunContext) Resume(nodeID string, value any) error {
	rc.shared.mu.Lock()
	p, ok := rc.shared.pending[nodeID]
	if ok {
		delete(rc.shared.pending, nodeID)
	}
	rc.shared.mu.Unlock()
	if !ok {
		return ErrNotSuspended
	}
	p.resume <- value
	return nil
}

// clearPending removes a suspension record without resuming it (deadline
// elapsed or run cancelled).
func (rc *RunContext) clearPending(nodeID string) {
	rc.shared.mu.Lock()
	delete(rc.shared.pending, nodeID)
	rc.shared.mu.Unlock()
}

// Pending returns a snapshot of the currently suspended nodes.
func (rc *RunContext) Pending() []PendingInput {
	rc.shared.mu.RLock()
	defer rc.shared.mu.RUnlock()
	result := make([]PendingInput, 0, len(rc.shared.pending))
	for _, p := range rc.shared.pending {
		result = append(result, *p)
	}
	return result
}

// Status returns the run's lifecycle state.
func (rc *RunContext) Status() RunStatus {
	rc.shared.mu.RLock()
	defer rc.shared.mu.RUnlock()
	return rc.shared.status
}

// setStatus transitions the run status. Terminal states are sticky.
func (rc *RunContext) setStatus(s RunStatus) {
	rc.shared.mu.Lock()
	defer rc.shared.mu.Unlock()
	if rc.shared.status.Terminal() {
		return
	}
	rc.shared.status = s
}

// fail records the terminal failure description and transitions to Failed.
func (rc *RunContext) fail(nodeID, reason string) {
	rc.shared.mu.Lock()
	defer rc.shared.mu.Unlock()
	if rc.shared.status.Terminal() {
		return
	}
	rc.shared.status = StatusFailed
	rc.shared.failedNode = nodeID
	rc.shared.failureReason = reason
}

// Failure returns the failing node id and a human-readable reason for a
// failed run. Both are empty unless the run failed.
func (rc *RunContext) Failure() (nodeID, reason string) {
	rc.shared.mu.RLock()
	defer rc.shared.mu.RUnlock()
	return rc.shared.failedNode, rc.shared.failureReason
}
