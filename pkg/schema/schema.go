// Package schema implements output_schema validation: a Job's declared
// output_schema (§4.3) is checked against the value its callable actually
// returns before that value is persisted. Backed by
// github.com/go-playground/validator/v10, the same struct-tag validator
// this module's teacher uses for its processing-worker output schemas.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Schema validates a Job's resolved output value.
type Schema interface {
	Validate(v any) error
}

// structSchema validates by round-tripping v through JSON into a T and then
// running go-playground/validator's struct-tag rules over it — the same
// technique this module's teacher uses in its processing package (struct
// tags like `validate:"required,gte=0,lte=1"`).
type structSchema[T any] struct {
	validate *validator.Validate
}

// ForStruct returns a Schema that validates output by unmarshalling it into
// a T and running T's `validate` struct tags.
func ForStruct[T any]() Schema {
	return &structSchema[T]{validate: validator.New()}
}

func (s *structSchema[T]) Validate(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("schema: marshal output for validation: %w", err)
	}
	var target T
	if err := json.Unmarshal(data, &target); err != nil {
		return fmt.Errorf("schema: unmarshal output into %T: %w", target, err)
	}
	if err := s.validate.Struct(target); err != nil {
		return err
	}
	return nil
}

// Func adapts a plain validation function to the Schema interface, for
// callers whose rules don't fit struct tags.
type Func func(v any) error

func (f Func) Validate(v any) error { return f(v) }
