package job

import (
	"context"
	"errors"
	"testing"

	"github.com/gpetretto/jobflow/internal/jferrors"
	"github.com/gpetretto/jobflow/pkg/jobstore"
	"github.com/gpetretto/jobflow/pkg/jobstore/memstore"
	"github.com/gpetretto/jobflow/pkg/ref"
	"github.com/gpetretto/jobflow/pkg/response"
)

func newTestRouter() *jobstore.Router {
	return jobstore.NewRouter(memstore.New())
}

func TestJobRunWithoutReferences(t *testing.T) {
	registry := NewRegistry()
	registry.Register("add", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		a := args[0].(int)
		b := args[1].(int)
		return a + b, nil
	})
	j := New(registry, "add", "add", []any{2, 3}, nil)
	resp, err := j.Run(context.Background(), newTestRouter())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Output != 5 {
		t.Fatalf("output = %v, want 5", resp.Output)
	}
}

func TestJobRunResolvesInputReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestRouter()
	if err := store.Save(ctx, "upstream", 1, map[string]any{"value": 4}, nil, "", nil, nil, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	registry := NewRegistry()
	registry.Register("double", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		v := args[0].(int) // the in-memory store hands the saved int back unchanged
		return v * 2, nil
	})
	input := ref.NewOutputReference("upstream").Field("value")
	j := New(registry, "double", "double", []any{input}, nil)

	if _, ok := j.InputUUIDs()["upstream"]; !ok {
		t.Fatalf("expected upstream in InputUUIDs, got %v", j.InputUUIDs())
	}

	resp, err := j.Run(ctx, store)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Output != 8 {
		t.Fatalf("output = %v, want 8", resp.Output)
	}
}

func TestJobRunMissingReferenceFailsFastByDefault(t *testing.T) {
	registry := NewRegistry()
	registry.Register("identity", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})
	j := New(registry, "identity", "identity", []any{ref.NewOutputReference("missing")}, nil)
	_, err := j.Run(context.Background(), newTestRouter())
	if !jferrors.IsOutputNotFound(err) {
		t.Fatalf("expected OutputNotFoundError, got %v", err)
	}
}

func TestJobRunMissingReferenceTreatAsNone(t *testing.T) {
	registry := NewRegistry()
	var seen any = "untouched"
	registry.Register("capture", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		seen = args[0]
		return nil, nil
	})
	j := New(registry, "capture", "capture", []any{ref.NewOutputReference("missing")}, nil, WithOnMissingReference(TreatAsNone))
	if _, err := j.Run(context.Background(), newTestRouter()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != nil {
		t.Fatalf("expected nil substituted for missing reference, got %v", seen)
	}
}

func TestJobInvokeReturnsRawResponse(t *testing.T) {
	registry := NewRegistry()
	registry.Register("detouring", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return &response.Response{Output: "value", StopChildren: true}, nil
	})
	j := New(registry, "detouring", "detouring", nil, nil)
	resp, err := j.Run(context.Background(), newTestRouter())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Output != "value" || !resp.StopChildren {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestJobOutputSchemaViolation(t *testing.T) {
	registry := NewRegistry()
	registry.Register("bad", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"total": -1}, nil
	})
	j := New(registry, "bad", "bad", nil, nil, WithOutputSchema(negativeRejectingSchema{}))
	_, err := j.Run(context.Background(), newTestRouter())
	var svErr *jferrors.SchemaViolationError
	if !errors.As(err, &svErr) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
}

type negativeRejectingSchema struct{}

func (negativeRejectingSchema) Validate(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if total, ok := m["total"].(int); ok && total < 0 {
		return errors.New("total must be non-negative")
	}
	return nil
}

func TestSetUUIDRejectedAfterScheduled(t *testing.T) {
	registry := NewRegistry()
	registry.Register("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	j := New(registry, "noop", "noop", nil, nil)
	if _, err := j.Run(context.Background(), newTestRouter()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := j.SetUUID("new-uuid"); err == nil {
		t.Fatal("expected SetUUID to fail once scheduled")
	}
}

func TestTaskBuildsJobWithoutInvoking(t *testing.T) {
	registry := NewRegistry()
	invoked := false
	task := Register(registry, "slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		invoked = true
		return nil, nil
	})
	j := task.New([]any{1, 2}, nil)
	if invoked {
		t.Fatal("Task.New must not invoke the callable")
	}
	if j.CallableName() != "slow" {
		t.Fatalf("CallableName = %q, want slow", j.CallableName())
	}
}

func TestFingerprintStableForIdenticalJobs(t *testing.T) {
	registry := NewRegistry()
	registry.Register("f", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) { return nil, nil })
	a := New(registry, "f", "f", []any{1, "x"}, map[string]any{"k": true})
	b := New(registry, "f", "f", []any{1, "x"}, map[string]any{"k": true})
	fa, ok := a.Fingerprint()
	if !ok {
		t.Fatal("expected fingerprint")
	}
	fb, _ := b.Fingerprint()
	if fa != fb {
		t.Fatalf("fingerprints differ for identical jobs: %s != %s", fa, fb)
	}
}
