// Package scheduler implements the execution engine that walks a Flow's
// dependency graph, runs each Job once its inputs are satisfied, persists
// its output, and rewrites the remaining graph in response to the dynamic
// directives (replace/detour/addition/stop_children/stop_jobflow) a Job's
// Response may carry.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/gpetretto/jobflow/internal/jferrors"
	"github.com/gpetretto/jobflow/pkg/flow"
	"github.com/gpetretto/jobflow/pkg/job"
	"github.com/gpetretto/jobflow/pkg/jobstore"
	"github.com/gpetretto/jobflow/pkg/jobstore/memstore"
	"github.com/gpetretto/jobflow/pkg/response"
)

// Manager runs Flows against a JobStore. One Manager can drive many runs;
// it holds no per-run state itself — that lives in runtimeState.
type Manager struct {
	Store  *jobstore.Router
	logger arbor.ILogger
}

// NewManager returns a Manager that persists to store.
func NewManager(store *jobstore.Router) *Manager {
	return &Manager{Store: store, logger: arbor.NewLogger()}
}

type runConfig struct {
	parallel   bool
	numWorkers int
}

// RunOption configures one call to RunLocally.
type RunOption func(*runConfig)

// WithParallelism runs ready Jobs concurrently, up to n at a time, instead
// of the default strictly-sequential execution.
func WithParallelism(n int) RunOption {
	return func(c *runConfig) { c.parallel = true; c.numWorkers = n }
}

// RunLocally executes rootFlow to completion (or abort, or an early
// stop_jobflow) against m.Store, returning every Job's recorded Response and
// a status report.
func (m *Manager) RunLocally(ctx context.Context, rootFlow *flow.Flow, opts ...RunOption) (Results, *Report, error) {
	cfg := runConfig{numWorkers: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	st := newRuntimeState(rootFlow)
	if cfg.parallel && cfg.numWorkers > 1 {
		return m.runParallel(ctx, st, cfg.numWorkers)
	}
	return m.runSequential(ctx, st)
}

// RunLocally is the package-level convenience entry point: build a Manager
// over an in-memory store (or the one supplied) and run rootFlow.
func RunLocally(ctx context.Context, rootFlow *flow.Flow, store *jobstore.Router, opts ...RunOption) (Results, *Report, error) {
	if store == nil {
		store = jobstore.NewRouter(memstore.New())
	}
	return NewManager(store).RunLocally(ctx, rootFlow, opts...)
}

func (m *Manager) runSequential(ctx context.Context, st *runtimeState) (Results, *Report, error) {
	m.logger.Info().Int("jobs", len(st.jobs)).Msg("starting sequential run")
	for {
		ready := st.computeReady()
		if len(ready) == 0 {
			if st.allResolved() {
				m.logger.Info().Int("done", st.report.CountByStatus(StatusDone)).Msg("run complete")
				return st.results, st.report, nil
			}
			err := jferrors.NewUnresolvableGraphError(st.remainingUUIDs())
			m.logger.Error().Err(err).Msg("run stalled")
			return st.results, st.report, err
		}
		j := ready[0]
		start := time.Now()
		resp, failErr, abortErr := m.resolveAndInvoke(ctx, st, j)
		if abortErr != nil {
			m.logger.Error().Err(abortErr).Str("uuid", j.UUID()).Msg("aborting run")
			return st.results, st.report, abortErr
		}
		stop := m.finishJob(st, j, resp, failErr, time.Since(start))
		if stop {
			m.logger.Info().Str("uuid", j.UUID()).Msg("stop_jobflow received, ending run")
			return st.results, st.report, nil
		}
	}
}

type jobOutcome struct {
	j        *job.Job
	resp     *response.Response
	failErr  error
	abortErr error
	duration time.Duration
}

// runParallel drives execution from a single goroutine (the scheduling
// thread) that owns runtimeState exclusively; resolveAndInvoke for distinct
// ready Jobs is dispatched onto worker goroutines bounded by a semaphore,
// and every mutation of runtimeState happens back on the scheduling thread
// as outcomes are drained from resultsCh.
func (m *Manager) runParallel(ctx context.Context, st *runtimeState, numWorkers int) (Results, *Report, error) {
	sem := make(chan struct{}, numWorkers)
	resultsCh := make(chan jobOutcome)
	inFlight := 0
	var firstAbort error

	launch := func(j *job.Job) {
		st.inFlight[j.UUID()] = true
		inFlight++
		go func() {
			sem <- struct{}{}
			defer func() { <-sem }()
			start := time.Now()
			resp, failErr, abortErr := m.resolveAndInvoke(ctx, st, j)
			resultsCh <- jobOutcome{j: j, resp: resp, failErr: failErr, abortErr: abortErr, duration: time.Since(start)}
		}()
	}

	for {
		for _, j := range st.computeReady() {
			launch(j)
		}
		if inFlight == 0 {
			break
		}
		outcome := <-resultsCh
		inFlight--
		delete(st.inFlight, outcome.j.UUID())
		if outcome.abortErr != nil {
			if firstAbort == nil {
				firstAbort = outcome.abortErr
			}
			continue
		}
		stop := m.finishJob(st, outcome.j, outcome.resp, outcome.failErr, outcome.duration)
		if stop || firstAbort != nil {
			break
		}
	}
	// Drain any launches still in flight before returning.
	for inFlight > 0 {
		outcome := <-resultsCh
		inFlight--
		delete(st.inFlight, outcome.j.UUID())
		if outcome.abortErr != nil {
			if firstAbort == nil {
				firstAbort = outcome.abortErr
			}
			continue
		}
		if firstAbort == nil {
			m.finishJob(st, outcome.j, outcome.resp, outcome.failErr, outcome.duration)
		}
	}
	if firstAbort != nil {
		return st.results, st.report, firstAbort
	}
	if !st.allResolved() {
		if remaining := st.remainingUUIDs(); len(remaining) > 0 {
			// Jobs remain pending only if computeReady stalled, i.e. the
			// graph cannot be fully resolved from here.
			return st.results, st.report, jferrors.NewUnresolvableGraphError(remaining)
		}
	}
	return st.results, st.report, nil
}

// resolveAndInvoke runs the two independent, store-only steps of executing
// one Job. It touches no runtimeState and is safe to call concurrently for
// distinct Jobs. A failure resolving inputs, or persisting the result, is
// returned as abortErr (the whole run stops); a failure invoking the
// callable itself is returned as failErr (recorded against the Job, the run
// continues).
func (m *Manager) resolveAndInvoke(ctx context.Context, st *runtimeState, j *job.Job) (resp *response.Response, failErr error, abortErr error) {
	args, kwargs, err := j.ResolveInputs(ctx, m.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: resolving inputs for job %s: %w", j.UUID(), err)
	}
	resp, invokeErr := j.Invoke(ctx, args, kwargs)
	if invokeErr != nil {
		return nil, jferrors.NewJobFailure(j.UUID(), j.Index(), invokeErr), nil
	}
	if err := m.Store.Save(ctx, j.UUID(), j.Index(), resp.Output, resp.StoredData, j.Name(), j.Metadata(), j.Hosts(), j.StoreNames()); err != nil {
		return nil, nil, fmt.Errorf("scheduler: persisting output for job %s: %w", j.UUID(), err)
	}
	return resp, nil, nil
}

// finishJob applies one Job's outcome to runtimeState: recording its status
// and Response, applying any replace/detour/addition directives in that
// order, and propagating stop_children/stop_jobflow. It returns whether the
// whole run should stop.
func (m *Manager) finishJob(st *runtimeState, j *job.Job, resp *response.Response, failErr error, duration time.Duration) bool {
	uuid := j.UUID()
	if failErr != nil {
		st.status[uuid] = StatusFailed
		st.report.set(uuid, j.Index(), j.Name(), StatusFailed, failErr.Error(), duration)
		for dep := range st.transitiveDownstream(uuid) {
			if st.status[dep] == "" {
				st.status[dep] = StatusCancelled
				if dj := st.jobs[dep]; dj != nil {
					st.report.set(dep, dj.Index(), dj.Name(), StatusCancelled, "upstream job failed", 0)
				}
			}
		}
		st.propagateCancellation()
		return false
	}

	st.status[uuid] = StatusDone
	st.report.set(uuid, j.Index(), j.Name(), StatusDone, "", duration)
	st.results.record(uuid, j.Index(), resp)

	// stop_children cancels only the downstream set taken here, before any
	// directive runs: Jobs a detour inserts are never cancelled by it, while
	// the original dependents it rewires onto the detour still are.
	var snapshot map[string]struct{}
	if resp.StopChildren {
		snapshot = st.transitiveDownstream(uuid)
	}

	if resp.Replace != nil {
		if replacement, ok := resp.Replace.(*flow.Flow); ok {
			m.applyReplace(st, j, replacement)
		}
	}
	if resp.Detour != nil {
		if detour, ok := resp.Detour.(*flow.Flow); ok {
			m.applyDetour(st, j, detour)
		}
	}
	if resp.Addition != nil {
		if addition, ok := resp.Addition.(*flow.Flow); ok {
			m.applyAddition(st, addition)
		}
	}

	if resp.StopChildren {
		for dep := range snapshot {
			if st.status[dep] == "" {
				st.status[dep] = StatusCancelled
				if dj := st.jobs[dep]; dj != nil {
					st.report.set(dep, dj.Index(), dj.Name(), StatusCancelled, "stop_children", 0)
				}
			}
		}
		st.propagateCancellation()
	}

	return resp.StopJobflow
}

// applyReplace implements both flavors of the replace directive (§9 Open
// Question 1): when the replacement Flow's own output resolves to the same
// uuid as j (the common "rerun myself with new args" case a callable builds
// via job.Task.New bound back onto its own uuid), this is a self-replace —
// the existing Job object is swapped out and its index bumped so the next
// scheduler pass runs it again. Otherwise it is a true replace: j is
// retired, every remaining reference to its uuid is rewritten onto the
// replacement Flow's output, and the replacement's Jobs are scheduled in
// its place.
func (m *Manager) applyReplace(st *runtimeState, original *job.Job, replacement *flow.Flow) {
	leaves := replacement.Leaves()
	if outRef, ok := replacement.OutputRef(); ok && string(outRef.UUID()) == original.UUID() && len(leaves) == 1 {
		newJob := leaves[0]
		_ = newJob.SetUUID(original.UUID()) // fresh, unscheduled job: always succeeds
		newJob.ForceIndex(original.Index() + 1)
		st.replaceJob(original.UUID(), newJob)
		return
	}

	for _, lj := range leaves {
		st.addJob(lj)
	}
	if outRef, ok := replacement.OutputRef(); ok {
		st.rewireReferences(original.UUID(), outRef)
	}
	st.retireJob(original.UUID())
}

// applyDetour schedules detour's Jobs alongside j's existing dependents,
// rewiring any downstream reference to j's output onto detour's output so
// later Jobs see the detour's result instead — without retiring j itself,
// which has already run and whose own Response stands.
func (m *Manager) applyDetour(st *runtimeState, j *job.Job, detour *flow.Flow) {
	for _, lj := range detour.Leaves() {
		st.addJob(lj)
	}
	if outRef, ok := detour.OutputRef(); ok {
		st.rewireReferences(j.UUID(), outRef)
	}
}

// applyAddition schedules addition's Jobs as pure insertions: nothing is
// rewired onto their output, since nothing downstream referenced them
// before they existed.
func (m *Manager) applyAddition(st *runtimeState, addition *flow.Flow) {
	for _, lj := range addition.Leaves() {
		st.addJob(lj)
	}
}
