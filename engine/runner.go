// ABOUTME: Run lifecycle API: start, resume human input, cancel, subscribe, and inspect runs.
// ABOUTME: One scheduler per run; graphs are shared read-only across concurrently executing runs.
package engine

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/lessonforge/pathrun/provider"
)

// DefaultRegistry builds a registry with all seven built-in executors. The
// provider backs ai-model nodes and ai-determined routing; it may be nil when
// a graph uses neither.
func DefaultRegistry(p provider.Provider) *Registry {
	reg := NewRegistry()
	reg.Register(NewContentExecutor())
	reg.Register(NewAIModelExecutor(p))
	reg.Register(&AssessmentExecutor{})
	reg.Register(&RouterExecutor{Provider: p})
	reg.Register(&LoopExecutor{})
	reg.Register(&ParallelExecutor{})
	reg.Register(&HumanInputExecutor{})
	return reg
}

// RunnerConfig configures run construction.
type RunnerConfig struct {
	// Provider backs AI nodes. Nil is legal; AI nodes then fail at dispatch.
	Provider provider.Provider

	// NewRegistry overrides executor construction per run. Nil uses
	// DefaultRegistry with the configured provider.
	NewRegistry func() *Registry
}

// activeRun tracks one in-flight or finished run.
type activeRun struct {
	id      string
	graph   *Graph
	rc      *RunContext
	emitter *Emitter
	cancel  context.CancelFunc

	done chan struct{}
	err  error // set before done closes
}

// Runner owns run lifecycles and is the engine's external surface: startRun,
// resumeHumanInput, cancelRun, subscribe.
type Runner struct {
	cfg  RunnerConfig
	mu   sync.RWMutex
	runs map[string]*activeRun
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		cfg:  cfg,
		runs: make(map[string]*activeRun),
	}
}

// StartRun begins executing the graph against the initial bindings and
// returns the new run id. Execution proceeds in its own goroutine; observe it
// through Subscribe, Wait, and Status.
func (r *Runner) StartRun(graph *Graph, initialBindings map[string]any) (string, error) {
	if graph == nil || graph.EntryNode() == nil {
		return "", &GraphIntegrityError{Reason: "no graph to run"}
	}

	runID := ulid.Make().String()
	rc := NewRunContext(initialBindings)
	emitter := NewEmitter(runID)

	registry := r.buildRegistry()
	sched := NewScheduler(runID, graph, registry, emitter, rc)

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		id:      runID,
		graph:   graph,
		rc:      rc,
		emitter: emitter,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[runID] = run
	r.mu.Unlock()

	go func() {
		defer cancel()
		run.err = sched.Run(ctx)
		close(run.done)
	}()

	return runID, nil
}

// buildRegistry constructs the per-run executor registry.
func (r *Runner) buildRegistry() *Registry {
	if r.cfg.NewRegistry != nil {
		return r.cfg.NewRegistry()
	}
	return DefaultRegistry(r.cfg.Provider)
}

// ResumeHumanInput delivers a value to a suspended node of a run.
func (r *Runner) ResumeHumanInput(runID, nodeID string, value any) error {
	run, err := r.get(runID)
	if err != nil {
		return err
	}
	return run.rc.Resume(nodeID, value)
}

// CancelRun requests cancellation. In-flight executors finish cooperatively;
// their results are discarded and the run ends Cancelled.
func (r *Runner) CancelRun(runID string) error {
	run, err := r.get(runID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Subscribe returns the run's live event channel and a cancel function.
func (r *Runner) Subscribe(runID string) (<-chan Event, func(), error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := run.emitter.Subscribe()
	return ch, cancel, nil
}

// Events returns the events emitted so far, from the run's start.
func (r *Runner) Events(runID string) ([]Event, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	return run.emitter.History(), nil
}

// Status returns the run's lifecycle state.
func (r *Runner) Status(runID string) (RunStatus, error) {
	run, err := r.get(runID)
	if err != nil {
		return "", err
	}
	return run.rc.Status(), nil
}

// Pending returns the run's suspended nodes awaiting input.
func (r *Runner) Pending(runID string) ([]PendingInput, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	return run.rc.Pending(), nil
}

// Result returns the run context. It is safe to inspect concurrently but only
// settles once the status is terminal.
func (r *Runner) Result(runID string) (*RunContext, error) {
	run, err := r.get(runID)
	if err != nil {
		return nil, err
	}
	return run.rc, nil
}

// Wait blocks until the run reaches a terminal state or ctx is done, and
// returns the run's terminal error (nil for completed runs).
func (r *Runner) Wait(ctx context.Context, runID string) error {
	run, err := r.get(runID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
		return run.err
	}
}

// get looks a run up by id.
func (r *Runner) get(runID string) (*activeRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}
