package schema

import "testing"

type sumOutput struct {
	Total int `json:"total" validate:"required,gte=0"`
}

func TestForStructAcceptsValidOutput(t *testing.T) {
	s := ForStruct[sumOutput]()
	if err := s.Validate(map[string]any{"total": 6}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestForStructRejectsInvalidOutput(t *testing.T) {
	s := ForStruct[sumOutput]()
	if err := s.Validate(map[string]any{"total": -1}); err == nil {
		t.Fatal("expected validation error for negative total")
	}
}

func TestFuncSchema(t *testing.T) {
	calls := 0
	s := Func(func(v any) error {
		calls++
		return nil
	})
	if err := s.Validate(42); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
