package scheduler

import (
	"sort"

	"github.com/gpetretto/jobflow/pkg/flow"
	"github.com/gpetretto/jobflow/pkg/job"
	"github.com/gpetretto/jobflow/pkg/ref"
	"github.com/gpetretto/jobflow/pkg/response"
)

// Results is the uuid -> index -> Response map a scheduler run returns.
type Results map[string]map[int]*response.Response

func (r Results) record(uuid string, index int, resp *response.Response) {
	if r[uuid] == nil {
		r[uuid] = map[int]*response.Response{}
	}
	r[uuid][index] = resp
}

// runtimeState is the single mutable graph a scheduler run operates on. All
// mutation happens on one goroutine — the "scheduling thread" — even in
// parallel mode (runParallel), so runtimeState itself needs no internal
// locking.
type runtimeState struct {
	jobs      map[string]*job.Job
	order     map[string]int
	nextOrder int
	status    map[string]Status // "" == still pending
	inFlight  map[string]bool
	results   Results
	report    *Report
}

func newRuntimeState(root *flow.Flow) *runtimeState {
	st := &runtimeState{
		jobs:     map[string]*job.Job{},
		order:    map[string]int{},
		status:   map[string]Status{},
		inFlight: map[string]bool{},
		results:  Results{},
		report:   newReport(),
	}
	for _, j := range root.Leaves() {
		st.addJob(j)
	}
	return st
}

func (st *runtimeState) addJob(j *job.Job) {
	uuid := j.UUID()
	if _, exists := st.order[uuid]; !exists {
		st.order[uuid] = st.nextOrder
		st.nextOrder++
	}
	st.jobs[uuid] = j
}

// replaceJob swaps in a new Job object under the same uuid (self-replace):
// the uuid must run again, so its terminal status is cleared.
func (st *runtimeState) replaceJob(uuid string, newJob *job.Job) {
	st.jobs[uuid] = newJob
	delete(st.status, uuid)
}

// retireJob removes uuid from the schedulable set entirely (true replace):
// after rewireReferences every remaining dependent has been rebased onto
// the replacement's output, so uuid becomes inert.
func (st *runtimeState) retireJob(uuid string) {
	delete(st.jobs, uuid)
	delete(st.status, uuid)
	delete(st.inFlight, uuid)
}

// rewireReferences rewrites every OutputReference naming oldUUID, in every
// job still in st.jobs, to instead name target with the old reference's
// path appended on top.
func (st *runtimeState) rewireReferences(oldUUID string, target ref.OutputReference) {
	match := func(v any) bool {
		r, ok := v.(ref.OutputReference)
		return ok && string(r.UUID()) == oldUUID
	}
	apply := func(v any) any {
		r := v.(ref.OutputReference)
		return target.WithPath(r.Path()...)
	}
	for _, j := range st.jobs {
		j.UpdateArgs(match, apply)
		j.UpdateKwargs(match, apply)
	}
}

// computeReady returns every job that can run right now: not terminal, not
// already in flight, and every internal dependency already done. A job
// whose input references an external uuid (one this run never touched,
// presumably already resolved in a prior run) treats that uuid as
// pre-satisfied — actual availability is checked at resolution time.
func (st *runtimeState) computeReady() []*job.Job {
	var ready []*job.Job
	for uuid, j := range st.jobs {
		if st.status[uuid] != "" || st.inFlight[uuid] {
			continue
		}
		if st.dependenciesSatisfied(j) {
			ready = append(ready, j)
		}
	}
	sort.SliceStable(ready, func(i, k int) bool {
		return st.order[ready[i].UUID()] < st.order[ready[k].UUID()]
	})
	return ready
}

func (st *runtimeState) dependenciesSatisfied(j *job.Job) bool {
	for dep := range j.InputUUIDs() {
		if _, internal := st.jobs[dep]; !internal {
			continue // external/prior uuid: assumed already resolvable
		}
		if st.status[dep] != StatusDone {
			return false
		}
	}
	return true
}

// transitiveDownstream returns every uuid (currently in st.jobs) that
// depends, directly or indirectly, on root.
func (st *runtimeState) transitiveDownstream(root string) map[string]struct{} {
	adj := map[string][]string{}
	for _, j := range st.jobs {
		for dep := range j.InputUUIDs() {
			if _, ok := st.jobs[dep]; ok {
				adj[dep] = append(adj[dep], j.UUID())
			}
		}
	}
	visited := map[string]struct{}{}
	queue := []string{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range adj[n] {
			if _, seen := visited[m]; !seen {
				visited[m] = struct{}{}
				queue = append(queue, m)
			}
		}
	}
	return visited
}

// propagateCancellation cancels any still-pending job whose dependency has
// become cancelled or failed, iterating to a fixpoint so cancellation
// cascades transitively.
func (st *runtimeState) propagateCancellation() {
	changed := true
	for changed {
		changed = false
		for uuid, j := range st.jobs {
			if st.status[uuid] != "" {
				continue
			}
			for dep := range j.InputUUIDs() {
				if s := st.status[dep]; s == StatusCancelled || s == StatusFailed {
					st.status[uuid] = StatusCancelled
					st.report.set(uuid, j.Index(), j.Name(), StatusCancelled, "upstream dependency did not complete", 0)
					changed = true
					break
				}
			}
		}
	}
}

func (st *runtimeState) allResolved() bool {
	for uuid := range st.jobs {
		if st.status[uuid] == "" {
			return false
		}
	}
	return true
}

func (st *runtimeState) remainingUUIDs() []string {
	var out []string
	for uuid := range st.jobs {
		if st.status[uuid] == "" {
			out = append(out, uuid)
		}
	}
	return out
}
