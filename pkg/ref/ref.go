// Package ref implements jobflow's lazy output references and the
// self-describing wire format used to move them (and everything else a Job
// might return) in and out of a JobStore.
package ref

import "fmt"

// JobUUID identifies a Job across its lifetime, independent of index.
type JobUUID string

// PathElem is one step of an OutputReference's path: either a string
// (attribute / mapping-key access) or an int (sequence index).
type PathElem = any

// OutputReference is a lazy, serializable handle onto a (future) Job's
// output: a uuid paired with a path into that output. It carries no value
// of its own — resolving it always goes through a JobStore.
type OutputReference struct {
	uuid         JobUUID
	path         []PathElem
	sourceStores []string
}

// NewOutputReference returns a reference to the whole output of uuid.
func NewOutputReference(uuid JobUUID) OutputReference {
	return OutputReference{uuid: uuid}
}

func (r OutputReference) UUID() JobUUID { return r.uuid }

func (r OutputReference) Path() []PathElem {
	out := make([]PathElem, len(r.path))
	copy(out, r.path)
	return out
}

func (r OutputReference) SourceStores() []string {
	out := make([]string, len(r.sourceStores))
	copy(out, r.sourceStores)
	return out
}

// Field returns a new reference extending this one with a mapping-key /
// attribute access.
func (r OutputReference) Field(name string) OutputReference {
	return r.extend(name)
}

// At returns a new reference extending this one with a sequence index.
func (r OutputReference) At(index int) OutputReference {
	return r.extend(index)
}

// WithPath returns a new reference with extra path elements appended — used
// by the scheduler to rebase a reference onto a replacement Flow's output
// projection.
func (r OutputReference) WithPath(elems ...PathElem) OutputReference {
	out := r
	for _, e := range elems {
		out = out.extend(e)
	}
	return out
}

func (r OutputReference) extend(elem PathElem) OutputReference {
	next := make([]PathElem, len(r.path)+1)
	copy(next, r.path)
	next[len(r.path)] = elem
	return OutputReference{uuid: r.uuid, path: next, sourceStores: r.sourceStores}
}

// WithSourceStores attaches the optional set of store names used to route
// this reference's resolution.
func (r OutputReference) WithSourceStores(names ...string) OutputReference {
	out := r
	out.sourceStores = append([]string{}, names...)
	return out
}

// Equal reports whether two references name the same uuid and path.
func (r OutputReference) Equal(other OutputReference) bool {
	if r.uuid != other.uuid || len(r.path) != len(other.path) {
		return false
	}
	for i := range r.path {
		if !pathElemEqual(r.path[i], other.path[i]) {
			return false
		}
	}
	return true
}

func pathElemEqual(a, b PathElem) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func (r OutputReference) String() string {
	return fmt.Sprintf("OutputReference(uuid=%s, path=%v)", r.uuid, r.path)
}

// EncodeRef implements Encodable so an OutputReference rides the same
// typed-object envelope as any other registered value.
func (r OutputReference) EncodeRef() (string, map[string]any) {
	fields := map[string]any{
		"uuid":       string(r.uuid),
		"attributes": append([]any{}, toAnySlice(r.path)...),
	}
	if len(r.sourceStores) > 0 {
		stores := make([]any, len(r.sourceStores))
		for i, s := range r.sourceStores {
			stores[i] = s
		}
		fields["source_stores"] = stores
	}
	return "OutputReference", fields
}

func toAnySlice(path []PathElem) []any {
	out := make([]any, len(path))
	copy(out, path)
	return out
}

// Set is jobflow's unordered-container analogue: encoded/decoded as a typed
// object rather than a plain sequence, so decode(encode(s)) round-trips as a
// Set rather than degrading into a []any.
type Set []any

func (s Set) EncodeRef() (string, map[string]any) {
	return "Set", map[string]any{"items": []any(s)}
}
