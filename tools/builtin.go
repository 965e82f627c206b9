package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// testCommands maps supported test frameworks to their invocations. run_tests
// is non-mutating and bypasses the approval gate, so it never accepts raw
// shell; anything outside this table is refused.
var testCommands = map[string][]string{
	"go":     {"go", "test"},
	"pytest": {"python3", "-m", "pytest"},
	"cargo":  {"cargo", "test"},
	"npm":    {"npm", "test"},
}

// testArgv builds the argument vector for one framework. The path is appended
// as a single argv element where the framework accepts one.
func testArgv(framework, path string) ([]string, error) {
	base, ok := testCommands[framework]
	if !ok {
		supported := make([]string, 0, len(testCommands))
		for name := range testCommands {
			supported = append(supported, name)
		}
		sort.Strings(supported)
		return nil, fmt.Errorf("unsupported test framework %q (supported: %s)",
			framework, strings.Join(supported, ", "))
	}

	argv := append([]string(nil), base...)
	switch framework {
	case "go":
		if path == "" {
			path = "./..."
		}
		argv = append(argv, path)
	case "pytest", "cargo":
		if path != "" {
			argv = append(argv, path)
		}
	}
	return argv, nil
}

// RegisterBuiltins installs the standard tool set. enabled is the configured
// enable-list; nil or empty means every builtin is registered.
func RegisterBuiltins(r *Registry, enabled []string) {
	allow := map[string]bool{}
	for _, name := range enabled {
		allow[name] = true
	}

	for _, d := range builtinDescriptors() {
		if len(allow) > 0 && !allow[d.Name] {
			continue
		}
		r.Register(d)
	}
}

func builtinDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "read_file",
			Description: "Read a file with line numbers, optionally windowed by offset and limit",
			Schema: Schema{
				"path":   {Type: TypeString, Required: true, Help: "file path relative to the workspace"},
				"offset": {Type: TypeInt, Help: "1-based first line"},
				"limit":  {Type: TypeInt, Help: "max lines to return"},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				path, _ := args.String("path")
				content, err := ws.ReadFile(path, args.IntOr("offset", 0), args.IntOr("limit", 0))
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: content}
			},
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content",
			Schema: Schema{
				"path":    {Type: TypeString, Required: true},
				"content": {Type: TypeString, Required: true},
			},
			Mutating: true,
			Risk:     RiskMedium,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				path, _ := args.String("path")
				content, _ := args.String("content")
				if err := ws.WriteFile(path, []byte(content)); err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the workspace",
			Schema: Schema{
				"path": {Type: TypeString, Required: true},
			},
			Mutating: true,
			Risk:     RiskHigh,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				path, _ := args.String("path")
				if err := ws.DeleteFile(path); err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: "deleted " + path}
			},
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory",
			Schema: Schema{
				"path": {Type: TypeString, Help: "defaults to the workspace root"},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				entries, err := ws.ListDirectory(args.StringOr("path", "."))
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				var sb strings.Builder
				for _, e := range entries {
					if e.IsDir {
						fmt.Fprintf(&sb, "%s/\n", e.Name)
					} else {
						fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
					}
				}
				return Outcome{Success: true, Output: sb.String()}
			},
		},
		{
			Name:        "search_code",
			Description: "Search file contents by regular expression",
			Schema: Schema{
				"pattern":          {Type: TypeString, Required: true},
				"path":             {Type: TypeString},
				"glob":             {Type: TypeString, Help: "filename filter, e.g. *.go"},
				"case_insensitive": {Type: TypeBool},
				"max_results":      {Type: TypeInt},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				pattern, _ := args.String("pattern")
				out, err := ws.Grep(ctx, pattern, args.StringOr("path", ""), GrepOptions{
					GlobFilter:      args.StringOr("glob", ""),
					CaseInsensitive: args.Bool("case_insensitive"),
					MaxResults:      args.IntOr("max_results", 0),
				})
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: out}
			},
		},
		{
			Name:        "glob",
			Description: "Find files matching a glob pattern, ** supported",
			Schema: Schema{
				"pattern": {Type: TypeString, Required: true},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				pattern, _ := args.String("pattern")
				matches, err := ws.Glob(pattern)
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: strings.Join(matches, "\n")}
			},
		},
		{
			Name:        "run_command",
			Description: "Run a shell command inside the workspace",
			Schema: Schema{
				"command":    {Type: TypeString, Required: true},
				"timeout_ms": {Type: TypeInt},
				"dir":        {Type: TypeString},
			},
			Mutating: true,
			Risk:     RiskHigh,
			// A shell command can touch anything under the root.
			Targets: func(args Args) []string { return []string{"."} },
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				command, _ := args.String("command")
				res, err := ws.ExecCommand(ctx, command, args.IntOr("timeout_ms", 120000), args.StringOr("dir", ""))
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				if res.TimedOut {
					return Outcome{Output: res.Output(), Error: "command timed out"}
				}
				if res.ExitCode != 0 {
					return Outcome{Output: res.Output(), Error: fmt.Sprintf("exit code %d", res.ExitCode)}
				}
				return Outcome{Success: true, Output: res.Output()}
			},
		},
		{
			Name:        "run_tests",
			Description: "Run the project's tests with a known framework",
			Schema: Schema{
				"framework":  {Type: TypeString, Help: "go, pytest, cargo, or npm; defaults to go"},
				"path":       {Type: TypeString, Help: "test path or package pattern inside the workspace"},
				"timeout_ms": {Type: TypeInt},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				path := args.StringOr("path", "")
				if path != "" {
					if _, err := ws.Resolve(path); err != nil {
						return Outcome{Error: err.Error()}
					}
				}
				argv, err := testArgv(args.StringOr("framework", "go"), path)
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				res, err := ws.ExecArgv(ctx, argv, args.IntOr("timeout_ms", 300000), "")
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				if res.TimedOut {
					return Outcome{Output: res.Output(), Error: "tests timed out"}
				}
				if res.ExitCode != 0 {
					return Outcome{Output: res.Output(), Error: fmt.Sprintf("tests failed with exit code %d", res.ExitCode)}
				}
				return Outcome{Success: true, Output: res.Output()}
			},
		},
	}
}
