// Package response defines the value a Job's callable hands back to the
// scheduler: the plain output plus any of the dynamic directives spec.md
// §4.5 describes.
package response

// Response is what a Job invocation produces. A callable that just returns
// a plain value is wrapped in a bare Response{Output: value} by the job
// package — only callables that need to steer the graph at runtime
// construct one directly.
//
// Detour, Addition and Replace hold a *flow.Flow when set. They are typed
// any here, rather than a concrete *flow.Flow, so that this package and the
// job package never need to import flow (which itself imports job) — the
// scheduler, which imports all three, is the only place that type-asserts
// them back to *flow.Flow.
type Response struct {
	Output       any
	Detour       any
	Addition     any
	Replace      any
	StoredData   any
	StopChildren bool
	StopJobflow  bool
}

// New wraps a plain output value with no directives set.
func New(output any) *Response {
	return &Response{Output: output}
}
