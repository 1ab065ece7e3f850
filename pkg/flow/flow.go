// Package flow implements Flow, jobflow's composite: a DAG of Jobs and
// nested sub-Flows, built up with Add and flattened to a stable execution
// order with Iterflow.
package flow

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/gpetretto/jobflow/internal/jferrors"
	"github.com/gpetretto/jobflow/pkg/job"
	"github.com/gpetretto/jobflow/pkg/ref"
)

// Node is satisfied by both *job.Job and *Flow, letting a Flow nest either
// as a child.
type Node interface {
	UUID() string
	AppendHost(flowUUID string)
	IsParented() bool
	MarkParented()
	Leaves() []*job.Job
}

// Flow is a named composite of Jobs and sub-Flows.
type Flow struct {
	uuid     string
	name     string
	children []Node
	output   any

	parented bool
	hosts    []string
}

// New returns an empty Flow with the given display name. output is the
// Flow's symbolic output projection — typically a ref.OutputReference (or a
// container of them) pointing at one of its descendant Jobs' outputs.
func New(name string, output any) *Flow {
	return &Flow{uuid: uuid.NewString(), name: name, output: output}
}

func (f *Flow) UUID() string { return f.uuid }
func (f *Flow) Name() string { return f.name }
func (f *Flow) Output() any  { return f.output }

// SetOutput replaces this Flow's output projection.
func (f *Flow) SetOutput(output any) { f.output = output }

func (f *Flow) Hosts() []string { return append([]string{}, f.hosts...) }

// AppendHost records that this Flow (and everything in it) now lives
// inside the Flow identified by flowUUID.
func (f *Flow) AppendHost(flowUUID string) {
	f.hosts = append(f.hosts, flowUUID)
	for _, c := range f.children {
		c.AppendHost(flowUUID)
	}
}

func (f *Flow) IsParented() bool { return f.parented }
func (f *Flow) MarkParented()    { f.parented = true }

// Leaves returns every Job transitively contained in this Flow, in
// insertion order.
func (f *Flow) Leaves() []*job.Job {
	var out []*job.Job
	for _, c := range f.children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// AllUUIDs returns the uuids of every Job transitively contained in this
// Flow.
func (f *Flow) AllUUIDs() map[string]struct{} {
	out := map[string]struct{}{}
	for _, j := range f.Leaves() {
		out[j.UUID()] = struct{}{}
	}
	return out
}

// Add attaches child (a *job.Job or *Flow) to this Flow. It is rejected if
// child already belongs to another Flow, or if attaching it would close a
// dependency cycle among the Jobs this Flow would then transitively
// contain.
func (f *Flow) Add(child Node) error {
	if child.IsParented() {
		return jferrors.NewGraphConstructionError(fmt.Sprintf("node %s already has a parent", child.UUID()))
	}
	candidate := append(append([]Node{}, f.children...), child)
	if hasCycle(candidate) {
		return jferrors.NewGraphConstructionError(fmt.Sprintf("adding node %s would introduce a dependency cycle", child.UUID()))
	}
	f.children = candidate
	child.MarkParented()
	child.AppendHost(f.uuid)
	return nil
}

func hasCycle(children []Node) bool {
	var leaves []*job.Job
	for _, c := range children {
		leaves = append(leaves, c.Leaves()...)
	}
	internal := map[string]struct{}{}
	for _, j := range leaves {
		internal[j.UUID()] = struct{}{}
	}
	adj := map[string][]string{}
	for _, j := range leaves {
		for u := range j.InputUUIDs() {
			if _, ok := internal[u]; ok {
				adj[u] = append(adj[u], j.UUID())
			}
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, m := range adj[n] {
			if color[m] == gray {
				return true
			}
			if color[m] == white && visit(m) {
				return true
			}
		}
		color[n] = black
		return false
	}
	for _, j := range leaves {
		if color[j.UUID()] == white {
			if visit(j.UUID()) {
				return true
			}
		}
	}
	return false
}

// IterItem is one step of a stable topological traversal: the Job ready to
// run and the uuids of the internal Jobs it depends on.
type IterItem struct {
	Job      *job.Job
	Upstream []string
}

// Iterflow returns every Job transitively contained in this Flow in a
// stable topological order (Kahn's algorithm, ties broken by insertion
// order).
func (f *Flow) Iterflow() []IterItem {
	leaves := f.Leaves()
	order := make(map[string]int, len(leaves))
	byUUID := make(map[string]*job.Job, len(leaves))
	for i, j := range leaves {
		order[j.UUID()] = i
		byUUID[j.UUID()] = j
	}
	internal := map[string]struct{}{}
	for _, j := range leaves {
		internal[j.UUID()] = struct{}{}
	}

	indeg := map[string]int{}
	adj := map[string][]string{}
	for _, j := range leaves {
		indeg[j.UUID()] = 0
	}
	for _, j := range leaves {
		for u := range j.InputUUIDs() {
			if _, ok := internal[u]; ok {
				adj[u] = append(adj[u], j.UUID())
				indeg[j.UUID()]++
			}
		}
	}

	var ready []*job.Job
	for _, j := range leaves {
		if indeg[j.UUID()] == 0 {
			ready = append(ready, j)
		}
	}
	sortByOrder(ready, order)

	var result []IterItem
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		var upstream []string
		for u := range n.InputUUIDs() {
			if _, ok := internal[u]; ok {
				upstream = append(upstream, u)
			}
		}
		result = append(result, IterItem{Job: n, Upstream: upstream})
		for _, m := range adj[n.UUID()] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = insertSorted(ready, byUUID[m], order)
			}
		}
	}
	return result
}

func sortByOrder(jobs []*job.Job, order map[string]int) {
	sort.SliceStable(jobs, func(i, k int) bool {
		return order[jobs[i].UUID()] < order[jobs[k].UUID()]
	})
}

func insertSorted(jobs []*job.Job, j *job.Job, order map[string]int) []*job.Job {
	pos := len(jobs)
	for i, existing := range jobs {
		if order[j.UUID()] < order[existing.UUID()] {
			pos = i
			break
		}
	}
	out := make([]*job.Job, 0, len(jobs)+1)
	out = append(out, jobs[:pos]...)
	out = append(out, j)
	out = append(out, jobs[pos:]...)
	return out
}

// OutputRef returns this Flow's output as a single ref.OutputReference,
// when its projection is exactly that (the common case) — used by the
// scheduler to rebase downstream references onto a replacement/detour
// Flow's output.
func (f *Flow) OutputRef() (ref.OutputReference, bool) {
	r, ok := f.output.(ref.OutputReference)
	return r, ok
}
