// Package validate implements the per-tool argument validator: a
// declarative field schema producing sanitized output, plus path and
// injection guards applied to string inputs.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crucible-dev/crucible/pkg/crucerr"
)

// FieldType enumerates schema field types.
type FieldType string

// Field types.
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Field declares the constraints for one argument.
type Field struct {
	Type     FieldType
	Required bool

	// Numeric bounds (TypeInt / TypeFloat).
	Min *float64
	Max *float64

	// String bounds (TypeString).
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
	Enum      []string

	// Path marks a string as a filesystem path subject to the path
	// guard.
	Path bool

	// SkipSniff exempts a string field from the injection sniffer
	// (e.g. code content, which legitimately contains SQL keywords).
	SkipSniff bool

	// Custom runs after the declarative checks on the sanitized value.
	Custom func(value any) error
}

// Schema is the field set for one tool.
type Schema map[string]Field

// Result carries the validation outcome.
type Result struct {
	Valid     bool
	Errors    []crucerr.FieldError
	Sanitized map[string]any

	// Rejections counts guard matches by kind, for metrics.
	Rejections map[string]int
}

// Validate checks args against the schema. All strings are trimmed;
// unknown fields are dropped from the sanitized output.
func (s Schema) Validate(args map[string]any) Result {
	res := Result{
		Sanitized:  make(map[string]any, len(args)),
		Rejections: make(map[string]int),
	}

	for name, field := range s {
		raw, present := args[name]
		if !present || raw == nil {
			if field.Required {
				res.Errors = append(res.Errors, crucerr.FieldError{
					Field: name, Message: "required",
				})
			}
			continue
		}

		value, err := coerce(field, raw)
		if err != nil {
			res.Errors = append(res.Errors, crucerr.FieldError{
				Field: name, Message: err.Error(),
			})
			continue
		}

		if msg, kind := s.check(name, field, value); msg != "" {
			res.Errors = append(res.Errors, crucerr.FieldError{
				Field: name, Message: msg,
			})
			if kind != "" {
				res.Rejections[kind]++
			}
			continue
		}

		if field.Custom != nil {
			if err := field.Custom(value); err != nil {
				res.Errors = append(res.Errors, crucerr.FieldError{
					Field: name, Message: err.Error(),
				})
				continue
			}
		}

		res.Sanitized[name] = value
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// check applies the declarative constraints; returns a message and an
// optional guard kind on failure.
func (s Schema) check(name string, field Field, value any) (msg, guardKind string) {
	switch field.Type {
	case TypeString:
		str := value.(string)
		if field.MinLength > 0 && len(str) < field.MinLength {
			return fmt.Sprintf("must be at least %d characters", field.MinLength), ""
		}
		if field.MaxLength > 0 && len(str) > field.MaxLength {
			return fmt.Sprintf("must be at most %d characters", field.MaxLength), ""
		}
		if field.Pattern != nil && !field.Pattern.MatchString(str) {
			return "does not match required pattern", ""
		}
		if len(field.Enum) > 0 {
			found := false
			for _, allowed := range field.Enum {
				if str == allowed {
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("must be one of %s", strings.Join(field.Enum, ", ")), ""
			}
		}
		if field.Path {
			if err := SanitizePath(str); err != nil {
				return err.Error(), GuardPath
			}
		}
		if !field.SkipSniff {
			if kind, bad := Sniff(str); bad {
				return "input matched a " + kind + " pattern", kind
			}
		}
	case TypeInt, TypeFloat:
		num := value.(float64)
		if field.Min != nil && num < *field.Min {
			return fmt.Sprintf("must be >= %v", *field.Min), ""
		}
		if field.Max != nil && num > *field.Max {
			return fmt.Sprintf("must be <= %v", *field.Max), ""
		}
	}
	return "", ""
}

// coerce converts and trims raw input into the field's declared type.
// JSON numbers arrive as float64; ints are accepted when integral.
func coerce(field Field, raw any) (any, error) {
	switch field.Type {
	case TypeString:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string")
		}
		return strings.TrimSpace(str), nil
	case TypeInt:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("must be an integer")
			}
			return v, nil
		}
		return nil, fmt.Errorf("must be an integer")
	case TypeFloat:
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		}
		return nil, fmt.Errorf("must be a number")
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean")
		}
		return b, nil
	case TypeObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("must be an object")
		}
		return trimStrings(m), nil
	case TypeArray:
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("must be an array")
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			if s, ok := item.(string); ok {
				out[i] = strings.TrimSpace(s)
			} else {
				out[i] = item
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown field type %q", field.Type)
}

func trimStrings(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = strings.TrimSpace(s)
		} else {
			out[k] = v
		}
	}
	return out
}

// IntArg reads a sanitized integer argument.
func IntArg(args map[string]any, name string) (int, bool) {
	v, ok := args[name].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// StringArg reads a sanitized string argument.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// BoolArg reads a sanitized boolean argument.
func BoolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}
