package tools

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType is the declared type of one schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
)

// Field declares one argument accepted by a tool.
type Field struct {
	Type     FieldType
	Required bool
	Help     string
}

// Schema maps argument names to their declarations.
type Schema map[string]Field

// RequiredFields returns the required argument names in sorted order.
func (s Schema) RequiredFields() []string {
	var names []string
	for name, f := range s {
		if f.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// OptionalFields returns the optional argument names in sorted order.
func (s Schema) OptionalFields() []string {
	var names []string
	for name, f := range s {
		if !f.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// InvalidArgumentsError reports argument validation failures. The step is
// skipped; the tool body is never reached.
type InvalidArgumentsError struct {
	Tool     string
	Problems []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Validate checks args against the schema. All problems are collected so the
// caller sees every violation at once, not just the first.
func (s Schema) Validate(tool string, args map[string]any) error {
	var problems []string

	for _, name := range s.RequiredFields() {
		if _, ok := args[name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", name))
		}
	}

	// Sort keys so repeated validation reports problems in a stable order.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		f, known := s[name]
		if !known {
			problems = append(problems, fmt.Sprintf("unknown field %q", name))
			continue
		}
		if !typeMatches(f.Type, args[name]) {
			problems = append(problems, fmt.Sprintf("field %q: expected %s, got %T", name, f.Type, args[name]))
		}
	}

	if len(problems) > 0 {
		return &InvalidArgumentsError{Tool: tool, Problems: problems}
	}
	return nil
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		// JSON numbers decode as float64; accept those with no fraction.
		switch n := v.(type) {
		case int:
			return true
		case float64:
			return n == float64(int(n))
		default:
			return false
		}
	case TypeBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// Args wraps a validated argument map with typed accessors.
type Args map[string]any

// String returns the named string argument and whether it was present.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns the named string argument or def when absent.
func (a Args) StringOr(key, def string) string {
	if s, ok := a.String(key); ok {
		return s
	}
	return def
}

// Int returns the named integer argument and whether it was present.
func (a Args) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// IntOr returns the named integer argument or def when absent.
func (a Args) IntOr(key string, def int) int {
	if n, ok := a.Int(key); ok {
		return n
	}
	return def
}

// Bool returns the named boolean argument, defaulting to false when absent.
func (a Args) Bool(key string) bool {
	v, ok := a[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
