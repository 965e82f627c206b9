package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RegisterGitTools installs the VCS tool set. Git runs with an explicit
// argument vector through the workspace, so the filtered environment applies
// and no argument is ever interpreted by a shell.
func RegisterGitTools(r *Registry) {
	for _, d := range gitDescriptors() {
		r.Register(d)
	}
}

const gitTimeoutMs = 30000

func runGit(ctx context.Context, ws *Workspace, args ...string) (string, error) {
	res, err := ws.ExecArgv(ctx, append([]string{"git"}, args...), gitTimeoutMs, "")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// GitBranch returns the current branch name, or empty outside a repository.
func GitBranch(ctx context.Context, ws *Workspace) string {
	out, err := runGit(ctx, ws, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// StatusEntry is one parsed line of porcelain status output. Code is the
// two-character XY status; Path is the current path, unquoted, with the
// rename source stripped.
type StatusEntry struct {
	Code string
	Path string
}

// Untracked reports whether the entry is an untracked file.
func (e StatusEntry) Untracked() bool { return e.Code == "??" }

// GitStatusEntries returns every dirty path, untracked files listed
// individually rather than collapsed into their directory.
func GitStatusEntries(ctx context.Context, ws *Workspace) []StatusEntry {
	out, err := runGit(ctx, ws, "status", "--porcelain", "-uall")
	if err != nil {
		return nil
	}
	return parsePorcelain(out)
}

// parsePorcelain decodes git status --porcelain lines. Rename and copy
// entries carry "old -> new"; paths with special characters arrive C-quoted.
func parsePorcelain(out string) []StatusEntry {
	var entries []StatusEntry
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if len(line) < 4 {
			continue
		}
		code := line[:2]
		path := line[3:]
		if code[0] == 'R' || code[0] == 'C' {
			if i := strings.LastIndex(path, " -> "); i >= 0 {
				path = path[i+4:]
			}
		}
		entries = append(entries, StatusEntry{Code: code, Path: unquoteGitPath(path)})
	}
	return entries
}

func unquoteGitPath(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		if unquoted, err := strconv.Unquote(path); err == nil {
			return unquoted
		}
	}
	return path
}

// GitModifiedFiles returns the paths with uncommitted changes.
func GitModifiedFiles(ctx context.Context, ws *Workspace) []string {
	entries := GitStatusEntries(ctx, ws)
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.Path)
	}
	if len(files) == 0 {
		return nil
	}
	return files
}

// GitHead returns the commit hash HEAD points at, or empty outside a
// repository.
func GitHead(ctx context.Context, ws *Workspace) string {
	out, err := runGit(ctx, ws, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// GitResetMixed moves HEAD to hash, keeping the working tree untouched.
func GitResetMixed(ctx context.Context, ws *Workspace, hash string) error {
	_, err := runGit(ctx, ws, "reset", "--mixed", hash)
	return err
}

// GitCheckoutPaths restores the given paths to their content at hash.
func GitCheckoutPaths(ctx context.Context, ws *Workspace, hash string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"checkout", hash, "--"}, paths...)
	_, err := runGit(ctx, ws, args...)
	return err
}

// GitDiffStat returns a summary of uncommitted changes.
func GitDiffStat(ctx context.Context, ws *Workspace) string {
	out, err := runGit(ctx, ws, "diff", "--stat")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func gitDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        "git_status",
			Description: "Show the working tree status",
			Schema:      Schema{},
			Mutating:    false,
			Risk:        RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				out, err := runGit(ctx, ws, "status", "--short", "--branch")
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: out}
			},
		},
		{
			Name:        "git_diff",
			Description: "Show uncommitted changes, optionally for one path",
			Schema: Schema{
				"path":   {Type: TypeString},
				"staged": {Type: TypeBool},
			},
			Mutating: false,
			Risk:     RiskLow,
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				gitArgs := []string{"diff"}
				if args.Bool("staged") {
					gitArgs = append(gitArgs, "--cached")
				}
				if path, ok := args.String("path"); ok {
					gitArgs = append(gitArgs, "--", path)
				}
				out, err := runGit(ctx, ws, gitArgs...)
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: out}
			},
		},
		{
			Name:        "git_commit",
			Description: "Stage the given paths and commit with a message",
			Schema: Schema{
				"message": {Type: TypeString, Required: true},
				"paths":   {Type: TypeString, Help: "space-separated paths; defaults to all tracked changes"},
			},
			Mutating: true,
			Risk:     RiskMedium,
			Targets: func(args Args) []string {
				paths, ok := args.String("paths")
				if !ok || paths == "" {
					return []string{"HEAD"}
				}
				return append(strings.Fields(paths), "HEAD")
			},
			Run: func(ctx context.Context, args Args, ws *Workspace) Outcome {
				message, _ := args.String("message")
				paths := args.StringOr("paths", "")

				addArgs := []string{"add"}
				if paths == "" {
					addArgs = append(addArgs, "-u")
				} else {
					addArgs = append(addArgs, strings.Fields(paths)...)
				}
				if _, err := runGit(ctx, ws, addArgs...); err != nil {
					return Outcome{Error: err.Error()}
				}

				// The message is one argv element; git records it verbatim.
				out, err := runGit(ctx, ws, "commit", "-m", message)
				if err != nil {
					return Outcome{Error: err.Error()}
				}
				return Outcome{Success: true, Output: out}
			},
		},
	}
}
