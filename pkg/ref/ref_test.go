package ref

import (
	"errors"
	"testing"

	"github.com/gpetretto/jobflow/internal/jferrors"
)

func TestOutputReferenceFieldAndAt(t *testing.T) {
	r := NewOutputReference("job-1").Field("result").At(2).Field("name")
	if r.UUID() != "job-1" {
		t.Fatalf("uuid = %q, want job-1", r.UUID())
	}
	want := []PathElem{"result", 2, "name"}
	got := r.Path()
	if len(got) != len(want) {
		t.Fatalf("path = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("path[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOutputReferenceEqual(t *testing.T) {
	a := NewOutputReference("u").Field("x").At(1)
	b := NewOutputReference("u").Field("x").At(1)
	c := NewOutputReference("u").Field("y")
	if !a.Equal(b) {
		t.Fatal("expected a.Equal(b)")
	}
	if a.Equal(c) {
		t.Fatal("expected a not to equal c")
	}
}

// Invariant (spec §8): decode(encode(v)) == v for every representable value.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []any{
		nil,
		"hello",
		42,
		3.14,
		true,
		[]any{1, "two", 3.0},
		map[string]any{"a": 1, "b": []any{"x", "y"}},
		NewOutputReference("job-42").Field("total"),
		Set{"a", "b", "c"},
	}
	for _, v := range cases {
		encoded, err := EncodeTree(v)
		if err != nil {
			t.Fatalf("EncodeTree(%v): %v", v, err)
		}
		decoded, err := DecodeTree(encoded)
		if err != nil {
			t.Fatalf("DecodeTree(%v): %v", encoded, err)
		}
		assertDeepEqualish(t, v, decoded)
	}
}

func assertDeepEqualish(t *testing.T, want, got any) {
	t.Helper()
	switch w := want.(type) {
	case OutputReference:
		g, ok := got.(OutputReference)
		if !ok || !w.Equal(g) {
			t.Errorf("got %#v, want %#v", got, want)
		}
	case Set:
		g, ok := got.(Set)
		if !ok || len(g) != len(w) {
			t.Errorf("got %#v, want %#v", got, want)
			return
		}
		for i := range w {
			assertDeepEqualish(t, w[i], g[i])
		}
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok || len(g) != len(w) {
			t.Errorf("got %#v, want %#v", got, want)
			return
		}
		for k, wv := range w {
			assertDeepEqualish(t, wv, g[k])
		}
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			t.Errorf("got %#v, want %#v", got, want)
			return
		}
		for i := range w {
			assertDeepEqualish(t, w[i], g[i])
		}
	default:
		if want != got {
			t.Errorf("got %#v, want %#v", got, want)
		}
	}
}

func TestEncodeTreeRejectsUnsupportedType(t *testing.T) {
	type opaque struct{ X int }
	_, err := EncodeTree(opaque{X: 1})
	var serErr *jferrors.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestDecodeTreeUnknownClassIsOpaque(t *testing.T) {
	tree := map[string]any{"@module": "other", "@class": "Widget", "color": "red"}
	decoded, err := DecodeTree(tree)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected opaque map, got %T", decoded)
	}
	if m["@class"] != "Widget" || m["color"] != "red" {
		t.Fatalf("unexpected opaque map: %#v", m)
	}
}

func TestFindRefsWalksContainers(t *testing.T) {
	r1 := NewOutputReference("a")
	r2 := NewOutputReference("b").Field("x")
	v := map[string]any{
		"direct": r1,
		"nested": []any{r2, "literal", Set{r1}},
	}
	refs := FindRefs(v)
	if len(refs) != 3 {
		t.Fatalf("found %d refs, want 3: %#v", len(refs), refs)
	}
}

func TestResolveRefsMemoizes(t *testing.T) {
	r := NewOutputReference("a")
	calls := 0
	resolve := func(ref OutputReference) (any, error) {
		calls++
		return 7, nil
	}
	v := []any{r, r, map[string]any{"again": r}}
	resolved, err := ResolveRefs(v, resolve)
	if err != nil {
		t.Fatalf("ResolveRefs: %v", err)
	}
	if calls != 1 {
		t.Fatalf("resolver called %d times, want 1 (memoized)", calls)
	}
	list, ok := resolved.([]any)
	if !ok || list[0] != 7 || list[1] != 7 {
		t.Fatalf("unexpected resolved value: %#v", resolved)
	}
}

func TestDereferenceWalksPath(t *testing.T) {
	value := map[string]any{
		"items": []any{
			map[string]any{"name": "alpha"},
			map[string]any{"name": "beta"},
		},
	}
	got, err := Dereference("u", value, []PathElem{"items", 1, "name"})
	if err != nil {
		t.Fatalf("Dereference: %v", err)
	}
	if got != "beta" {
		t.Fatalf("got %v, want beta", got)
	}
}

func TestDereferenceFailureNamesFailingIndex(t *testing.T) {
	value := map[string]any{"items": []any{1, 2}}
	_, err := Dereference("u", value, []PathElem{"items", 5})
	var rerr *jferrors.ReferenceResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReferenceResolutionError, got %v", err)
	}
	if rerr.FailingIndex != 1 {
		t.Fatalf("FailingIndex = %d, want 1", rerr.FailingIndex)
	}
}
