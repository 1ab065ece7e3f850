// Package job implements jobflow's unit of deferred computation: a Job
// binds a registered callable to a set of arguments (which may themselves
// contain OutputReferences to other Jobs) without running it.
package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/gpetretto/jobflow/internal/jferrors"
	"github.com/gpetretto/jobflow/pkg/ref"
	"github.com/gpetretto/jobflow/pkg/response"
	"github.com/gpetretto/jobflow/pkg/schema"
)

// OnMissingReferencePolicy controls what happens when a Job's input
// reference cannot be resolved or dereferenced. Supplementing the original
// python jobflow's on_missing_references knob, dropped from the
// distillation's invariants but safe to carry as an opt-in that defaults to
// the documented fail-fast behavior.
type OnMissingReferencePolicy int

const (
	// FailFast aborts the scheduler run on an unresolvable reference (the
	// default, and the only behavior spec.md's invariants describe).
	FailFast OnMissingReferencePolicy = iota
	// TreatAsNone substitutes nil for a reference that cannot be resolved
	// or dereferenced, instead of failing.
	TreatAsNone
)

// OutputGetter is the subset of a JobStore a Job needs to resolve its own
// input references. *jobstore.Router satisfies it structurally.
type OutputGetter interface {
	Resolve(ctx context.Context, jobUUID string, index *int) (any, error)
}

// Job is jobflow's unit of deferred, data-dependent computation.
type Job struct {
	uuid         string
	index        int
	name         string
	callableName string
	registry     *Registry

	args   []any
	kwargs map[string]any

	outputSchema schema.Schema
	storeNames   map[string]string
	metadata     map[string]any
	hosts        []string
	onMissingRef OnMissingReferencePolicy

	scheduled bool
	parented  bool
}

// Option configures a Job at construction time.
type Option func(*Job)

func WithName(name string) Option { return func(j *Job) { j.name = name } }

func WithMetadata(md map[string]any) Option {
	return func(j *Job) {
		for k, v := range md {
			j.metadata[k] = v
		}
	}
}

func WithOutputSchema(s schema.Schema) Option { return func(j *Job) { j.outputSchema = s } }

// WithStoreNames sets the output-key -> auxiliary-store-name routing table:
// any top-level key of the output matching one of these keys exactly is
// persisted to the named store instead of inline (§4.2).
func WithStoreNames(routing map[string]string) Option {
	return func(j *Job) {
		for k, v := range routing {
			j.storeNames[k] = v
		}
	}
}

func WithOnMissingReference(p OnMissingReferencePolicy) Option {
	return func(j *Job) { j.onMissingRef = p }
}

// New builds a Job bound to callableName in registry. name is the Job's
// display name (defaults to callableName if empty); args/kwargs may embed
// ref.OutputReference values anywhere a sequence, mapping, or ref.Set can
// reach.
func New(registry *Registry, name, callableName string, args []any, kwargs map[string]any, opts ...Option) *Job {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if name == "" {
		name = callableName
	}
	j := &Job{
		uuid:         uuid.NewString(),
		index:        1,
		name:         name,
		callableName: callableName,
		registry:     registry,
		args:         args,
		kwargs:       kwargs,
		storeNames:   map[string]string{},
		metadata:     map[string]any{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Job) UUID() string      { return j.uuid }
func (j *Job) Index() int        { return j.index }
func (j *Job) Name() string      { return j.name }
func (j *Job) CallableName() string { return j.callableName }
func (j *Job) StoreNames() map[string]string {
	out := map[string]string{}
	for k, v := range j.storeNames {
		out[k] = v
	}
	return out
}

func (j *Job) Metadata() map[string]any {
	out := map[string]any{}
	for k, v := range j.metadata {
		out[k] = v
	}
	return out
}

func (j *Job) Hosts() []string { return append([]string{}, j.hosts...) }

// AppendHost records that this Job now lives inside the Flow identified by
// flowUUID. Called by flow.Flow.Add — exported because flow is a different
// package, not part of the Job's public surface for ordinary callers.
func (j *Job) AppendHost(flowUUID string) { j.hosts = append(j.hosts, flowUUID) }

// IsParented reports whether some Flow has already claimed this Job as a
// child (a Job may only belong to one Flow at a time).
func (j *Job) IsParented() bool { return j.parented }

// MarkParented records that a Flow has claimed this Job. Called by
// flow.Flow.Add.
func (j *Job) MarkParented() { j.parented = true }

// Leaves returns this Job as a single-element slice, satisfying the
// flow.Node interface (a Job is its own flattened leaf set).
func (j *Job) Leaves() []*Job { return []*Job{j} }

// SetUUID reassigns this Job's uuid. Valid only before the Job has been
// scheduled (Run'd) — used by callers building graphs that need a
// particular uuid ahead of time, and internally by the scheduler when
// wiring a Replace directive's output projection.
func (j *Job) SetUUID(newUUID string) error {
	if j.scheduled {
		return fmt.Errorf("job: cannot set uuid on job %s after it has been scheduled", j.uuid)
	}
	j.uuid = newUUID
	return nil
}

// ForceIndex reassigns this Job's index directly. Used by the scheduler to
// implement self-replacement (§9 Open Question 1): a Replace directive
// whose replacement reuses the original uuid bumps the index instead of
// reassigning identity.
func (j *Job) ForceIndex(i int) { j.index = i }

// MarkScheduled freezes this Job's identity (uuid is no longer mutable).
// Called by Invoke immediately before the callable runs.
func (j *Job) MarkScheduled() { j.scheduled = true }

// Output returns a reference to this Job's whole output.
func (j *Job) Output() ref.OutputReference {
	return ref.NewOutputReference(ref.JobUUID(j.uuid))
}

// InputReferences returns every OutputReference reachable from this Job's
// args and kwargs.
func (j *Job) InputReferences() []ref.OutputReference {
	refs := ref.FindRefs(j.args)
	refs = append(refs, ref.FindRefs(j.kwargs)...)
	return refs
}

// InputUUIDs returns the set of uuids this Job's input references name.
func (j *Job) InputUUIDs() map[string]struct{} {
	out := map[string]struct{}{}
	for _, r := range j.InputReferences() {
		out[string(r.UUID())] = struct{}{}
	}
	return out
}

// UpdateKwargs rewrites every value within kwargs for which match returns
// true, replacing it with apply's result. Used by the scheduler to rebase
// references after a Replace directive.
func (j *Job) UpdateKwargs(match func(v any) bool, apply func(v any) any) {
	j.kwargs = updateMatching(j.kwargs, match, apply).(map[string]any)
}

// UpdateArgs is UpdateKwargs' counterpart for positional args.
func (j *Job) UpdateArgs(match func(v any) bool, apply func(v any) any) {
	rewritten := updateMatching(j.args, match, apply)
	if s, ok := rewritten.([]any); ok {
		j.args = s
	}
}

func updateMatching(v any, match func(any) bool, apply func(any) any) any {
	if match(v) {
		return apply(v)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return v
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = updateMatching(rv.Index(i).Interface(), match, apply)
		}
		return out
	case reflect.Map:
		out := map[string]any{}
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = updateMatching(iter.Value().Interface(), match, apply)
		}
		return out
	default:
		return v
	}
}

// ResolveInputs resolves every OutputReference reachable from this Job's
// args/kwargs against store, applying OnMissingReferencePolicy on failure.
// A resolution failure under FailFast is a scheduler-abort condition, not a
// per-job failure — the caller (scheduler) treats the returned error that
// way.
func (j *Job) ResolveInputs(ctx context.Context, store OutputGetter) ([]any, map[string]any, error) {
	resolver := func(r ref.OutputReference) (any, error) {
		val, err := store.Resolve(ctx, string(r.UUID()), nil)
		if err != nil {
			if j.onMissingRef == TreatAsNone {
				return nil, nil
			}
			return nil, err
		}
		resolved, err := ref.Dereference(r.UUID(), val, r.Path())
		if err != nil {
			if j.onMissingRef == TreatAsNone {
				return nil, nil
			}
			return nil, err
		}
		return resolved, nil
	}

	resolvedArgs, err := ref.ResolveRefs(j.args, resolver)
	if err != nil {
		return nil, nil, err
	}
	resolvedKwargs, err := ref.ResolveRefs(j.kwargs, resolver)
	if err != nil {
		return nil, nil, err
	}
	argsSlice, _ := resolvedArgs.([]any)
	kwargsMap, _ := resolvedKwargs.(map[string]any)
	if kwargsMap == nil {
		kwargsMap = map[string]any{}
	}
	return argsSlice, kwargsMap, nil
}

// Invoke looks up this Job's callable and runs it against already-resolved
// args/kwargs, validating the result against output_schema when one is
// set. An error here is recorded against the Job (jferrors.JobFailure by
// the caller) — it never aborts a scheduler run by itself.
func (j *Job) Invoke(ctx context.Context, args []any, kwargs map[string]any) (*response.Response, error) {
	registry := j.registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	fn, ok := registry.lookup(j.callableName)
	if !ok {
		return nil, fmt.Errorf("job: no callable registered under name %q", j.callableName)
	}
	j.MarkScheduled()
	result, err := fn(ctx, args, kwargs)
	if err != nil {
		return nil, err
	}
	resp, ok := result.(*response.Response)
	if !ok {
		resp = response.New(result)
	}
	if j.outputSchema != nil {
		if verr := j.outputSchema.Validate(resp.Output); verr != nil {
			return nil, jferrors.NewSchemaViolationError(j.uuid, verr)
		}
	}
	return resp, nil
}

// Run resolves this Job's inputs and invokes its callable in one step — a
// convenience for callers outside a scheduler run (tests, scripts) that
// don't need the resolution/invocation error distinction the scheduler
// relies on.
func (j *Job) Run(ctx context.Context, store OutputGetter) (*response.Response, error) {
	args, kwargs, err := j.ResolveInputs(ctx, store)
	if err != nil {
		return nil, err
	}
	return j.Invoke(ctx, args, kwargs)
}

// Fingerprint returns a stable content hash of this Job's callable name and
// pre-resolution argument shape, for callers that want to memoize repeated
// runs of an identical Job against a cache of their own. It is an opt-in
// hook only — nothing in this module enables automatic memoization from it.
// Grounded on the teacher's ReadByFingerprint pattern
// (server/services/job/job_service.go), generalized from a build-dedupe key
// to a Job-shape hash.
func (j *Job) Fingerprint() (string, bool) {
	tree, err := ref.EncodeTree(map[string]any{
		"callable": j.callableName,
		"args":     j.args,
		"kwargs":   j.kwargs,
	})
	if err != nil {
		return "", false
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true
}
