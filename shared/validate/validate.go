// Package validate implements the request validation kernel. A Schema names
// the required and optional fields of one operation along with cross-field
// hooks; validation accumulates one error per bad field and reports them all
// in a single InvalidParameters response.
package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/TritonDataCenter/sdc-napi-sub002/shared/api"
)

// ExtraFields lets a validator emit additional parsed fields beyond its own,
// e.g. an IP validator returning the record it had to fetch anyway.
type ExtraFields map[string]any

// Validator parses a single input field. It returns the parsed value, any
// extra parsed fields, or an error describing why the value is unacceptable.
type Validator func(ctx context.Context, name string, value any) (any, ExtraFields, error)

// Hook is a cross-field validation step. It only runs when none of the named
// Fields accumulated an error earlier. Run may add further field errors to
// errs, or return a non-nil error to abort the request outright.
type Hook struct {
	Fields []string
	Run    func(ctx context.Context, parsed map[string]any, errs *FieldErrors) error
}

// Schema describes the parameters of one operation.
type Schema struct {
	Required map[string]Validator
	Optional map[string]Validator

	// Strict rejects fields not named in Required or Optional.
	Strict bool

	// After hooks run in order once per-field validation is done.
	After []Hook
}

// FieldErrors accumulates per-field validation errors.
type FieldErrors struct {
	errs   []api.FieldError
	fields map[string]struct{}
}

// Add records a field error.
func (e *FieldErrors) Add(fe api.FieldError) {
	if e.fields == nil {
		e.fields = map[string]struct{}{}
	}

	e.errs = append(e.errs, fe)
	e.fields[fe.Field] = struct{}{}
}

// HasField reports whether any error was recorded for the named field.
func (e *FieldErrors) HasField(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// Len returns the number of accumulated errors.
func (e *FieldErrors) Len() int {
	return len(e.errs)
}

// Err returns nil when no errors accumulated, otherwise a 422 error with the
// field errors sorted by field name.
func (e *FieldErrors) Err() error {
	if len(e.errs) == 0 {
		return nil
	}

	sorted := make([]api.FieldError, len(e.errs))
	copy(sorted, e.errs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Field < sorted[j].Field
	})

	return api.InvalidParams(sorted...)
}

// Validate checks input against the schema and returns the parsed fields.
func (s *Schema) Validate(ctx context.Context, input map[string]any) (map[string]any, error) {
	parsed := map[string]any{}
	errs := &FieldErrors{}

	runField := func(name string, v Validator, value any) {
		pv, extra, err := v(ctx, name, value)
		if err != nil {
			fe, ok := err.(*api.Error)
			if ok && len(fe.Errors) > 0 {
				for _, sub := range fe.Errors {
					errs.Add(sub)
				}

				return
			}

			errs.Add(api.InvalidParam(name, err.Error(), value))
			return
		}

		parsed[name] = pv
		for k, v := range extra {
			parsed[k] = v
		}
	}

	for name, v := range s.Required {
		value, ok := input[name]
		if !ok || value == nil {
			errs.Add(api.MissingParam(name))
			continue
		}

		runField(name, v, value)
	}

	for name, v := range s.Optional {
		value, ok := input[name]
		if !ok || value == nil {
			continue
		}

		runField(name, v, value)
	}

	if s.Strict {
		for name := range input {
			_, req := s.Required[name]
			_, opt := s.Optional[name]
			if !req && !opt {
				errs.Add(api.InvalidParam(name, "Unknown parameter", input[name]))
			}
		}
	}

	for _, hook := range s.After {
		skip := false
		for _, f := range hook.Fields {
			if errs.HasField(f) {
				skip = true
				break
			}
		}

		if skip {
			continue
		}

		err := hook.Run(ctx, parsed, errs)
		if err != nil {
			return nil, err
		}
	}

	err := errs.Err()
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

// Errf returns a plain validation error for use inside validators.
func Errf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}
