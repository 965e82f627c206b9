package tools

import (
	"errors"
	"strings"
	"testing"
)

func TestSchemaValidate(t *testing.T) {
	schema := Schema{
		"path":    {Type: TypeString, Required: true},
		"content": {Type: TypeString, Required: true},
		"append":  {Type: TypeBool},
		"limit":   {Type: TypeInt},
	}

	cases := []struct {
		name     string
		args     map[string]any
		wantErrs []string
	}{
		{
			name: "valid",
			args: map[string]any{"path": "a.go", "content": "x", "append": true, "limit": float64(3)},
		},
		{
			name:     "missing required",
			args:     map[string]any{"path": "a.go"},
			wantErrs: []string{`missing required field "content"`},
		},
		{
			name:     "type mismatch",
			args:     map[string]any{"path": 7, "content": "x"},
			wantErrs: []string{`field "path": expected string`},
		},
		{
			name:     "unknown field",
			args:     map[string]any{"path": "a", "content": "x", "mode": "w"},
			wantErrs: []string{`unknown field "mode"`},
		},
		{
			name:     "fractional int",
			args:     map[string]any{"path": "a", "content": "x", "limit": 1.5},
			wantErrs: []string{`field "limit": expected int`},
		},
		{
			name: "multiple problems reported together",
			args: map[string]any{"append": "yes"},
			wantErrs: []string{
				`missing required field "content"`,
				`missing required field "path"`,
				`field "append": expected bool`,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.Validate("write_file", tc.args)
			if len(tc.wantErrs) == 0 {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			var iae *InvalidArgumentsError
			if !errors.As(err, &iae) {
				t.Fatalf("want InvalidArgumentsError, got %v", err)
			}
			for _, want := range tc.wantErrs {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestSchemaFieldLists(t *testing.T) {
	schema := Schema{
		"b": {Type: TypeString, Required: true},
		"a": {Type: TypeString, Required: true},
		"z": {Type: TypeInt},
	}
	required := schema.RequiredFields()
	if len(required) != 2 || required[0] != "a" || required[1] != "b" {
		t.Errorf("RequiredFields = %v, want [a b]", required)
	}
	optional := schema.OptionalFields()
	if len(optional) != 1 || optional[0] != "z" {
		t.Errorf("OptionalFields = %v, want [z]", optional)
	}
}

func TestArgsAccessors(t *testing.T) {
	args := Args{"s": "hello", "n": float64(42), "b": true}

	if s, ok := args.String("s"); !ok || s != "hello" {
		t.Errorf("String(s) = %q, %v", s, ok)
	}
	if n, ok := args.Int("n"); !ok || n != 42 {
		t.Errorf("Int(n) = %d, %v", n, ok)
	}
	if !args.Bool("b") {
		t.Error("Bool(b) = false")
	}
	if got := args.StringOr("missing", "def"); got != "def" {
		t.Errorf("StringOr = %q", got)
	}
	if got := args.IntOr("missing", 9); got != 9 {
		t.Errorf("IntOr = %d", got)
	}
}
