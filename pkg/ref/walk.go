package ref

import (
	"fmt"
	"reflect"

	"github.com/gpetretto/jobflow/internal/jferrors"
)

// EncodeTree converts v into the self-describing wire tree: primitives pass
// through unchanged, slices/arrays become ordered []any, string-keyed maps
// become map[string]any, and anything implementing Encodable is wrapped in
// the {"@module", "@class", ...fields} envelope. Any other type is an error
// — callers that need a custom type on the wire implement Encodable rather
// than relying on reflection over unexported struct internals.
func EncodeTree(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if enc, ok := v.(Encodable); ok {
		classID, fields := enc.EncodeRef()
		out := map[string]any{"@module": ModuleID, "@class": classID}
		for k, fv := range fields {
			ev, err := EncodeTree(fv)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := EncodeTree(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case reflect.Map:
		out := map[string]any{}
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := EncodeTree(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = ev
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return EncodeTree(rv.Elem().Interface())
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, nil
	default:
		return nil, jferrors.NewSerializationError(v, fmt.Errorf("type %T is neither a primitive, a container, nor ref.Encodable", v))
	}
}

// DecodeTree is EncodeTree's inverse. A typed-object envelope whose @class
// has no registered decoder decodes as an opaque map (fields still
// recursively decoded) rather than failing — unknown types are meant to
// round-trip through a JobStore even if this binary doesn't know how to
// rebuild them natively.
func DecodeTree(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if classID, ok := val["@class"].(string); ok {
			fields := map[string]any{}
			for k, fv := range val {
				if k == "@module" || k == "@class" {
					continue
				}
				dv, err := DecodeTree(fv)
				if err != nil {
					return nil, err
				}
				fields[k] = dv
			}
			if decode, ok := lookupDecoder(classID); ok {
				return decode(fields)
			}
			opaque := map[string]any{"@class": classID}
			for k, fv := range fields {
				opaque[k] = fv
			}
			return opaque, nil
		}
		out := map[string]any{}
		for k, fv := range val {
			dv, err := DecodeTree(fv)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, fv := range val {
			dv, err := DecodeTree(fv)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

// FindRefs returns every OutputReference reachable from v by walking
// sequences, mappings, and exported struct fields.
func FindRefs(v any) []OutputReference {
	var out []OutputReference
	walkRefs(v, &out)
	return out
}

func walkRefs(v any, out *[]OutputReference) {
	switch val := v.(type) {
	case OutputReference:
		*out = append(*out, val)
		return
	case *OutputReference:
		if val != nil {
			*out = append(*out, *val)
		}
		return
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			walkRefs(rv.Index(i).Interface(), out)
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			walkRefs(iter.Value().Interface(), out)
		}
	case reflect.Ptr:
		if !rv.IsNil() {
			walkRefs(rv.Elem().Interface(), out)
		}
	case reflect.Interface:
		if !rv.IsNil() {
			walkRefs(rv.Elem().Interface(), out)
		}
	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue // unexported
			}
			walkRefs(rv.Field(i).Interface(), out)
		}
	}
}

// Resolver resolves a single OutputReference to a concrete value.
type Resolver func(OutputReference) (any, error)

// ResolveRefs returns a copy of v with every OutputReference reachable
// through sequences, mappings and pointers replaced by resolve's result.
// Struct values are returned unchanged, so references held in their fields
// (which FindRefs does report) are not resolved. Resolutions are memoized
// per call so a reference appearing twice in v is only resolved once.
func ResolveRefs(v any, resolve Resolver) (any, error) {
	cache := map[string]any{}
	return walkResolve(v, resolve, cache)
}

func refKey(r OutputReference) string {
	return fmt.Sprintf("%s|%v", r.uuid, r.path)
}

func walkResolve(v any, resolve Resolver, cache map[string]any) (any, error) {
	if r, ok := v.(OutputReference); ok {
		key := refKey(r)
		if cv, ok := cache[key]; ok {
			return cv, nil
		}
		rv, err := resolve(r)
		if err != nil {
			return nil, err
		}
		cache[key] = rv
		return rv, nil
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return v, nil
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			rep, err := walkResolve(rv.Index(i).Interface(), resolve, cache)
			if err != nil {
				return nil, err
			}
			out[i] = rep
		}
		if _, isSet := v.(Set); isSet {
			return Set(out), nil
		}
		return out, nil
	case reflect.Map:
		out := map[string]any{}
		iter := rv.MapRange()
		for iter.Next() {
			rep, err := walkResolve(iter.Value().Interface(), resolve, cache)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = rep
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return v, nil
		}
		return walkResolve(rv.Elem().Interface(), resolve, cache)
	default:
		return v, nil
	}
}

// Dereference walks value according to path, returning a
// ReferenceResolutionError (naming uuid and the failing path index) on the
// first step that cannot be satisfied.
func Dereference(uuid JobUUID, value any, path []PathElem) (any, error) {
	cur := value
	for i, elem := range path {
		next, err := derefStep(cur, elem)
		if err != nil {
			return nil, jferrors.NewReferenceResolutionError(string(uuid), toAnySlice(path), i, err)
		}
		cur = next
	}
	return cur, nil
}

func derefStep(cur any, elem PathElem) (any, error) {
	switch e := elem.(type) {
	case string:
		if m, ok := cur.(map[string]any); ok {
			val, ok := m[e]
			if !ok {
				return nil, fmt.Errorf("key %q not found", e)
			}
			return val, nil
		}
		rv := reflect.ValueOf(cur)
		if rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Struct {
			fv := rv.FieldByName(e)
			if !fv.IsValid() {
				return nil, fmt.Errorf("field %q not found on %T", e, cur)
			}
			return fv.Interface(), nil
		}
		return nil, fmt.Errorf("cannot look up key %q on %T", e, cur)
	case int:
		rv := reflect.ValueOf(cur)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if e < 0 || e >= rv.Len() {
				return nil, fmt.Errorf("index %d out of range (len %d)", e, rv.Len())
			}
			return rv.Index(e).Interface(), nil
		default:
			return nil, fmt.Errorf("cannot index %T with %d", cur, e)
		}
	default:
		return nil, fmt.Errorf("unsupported path element %v (%T)", elem, elem)
	}
}
