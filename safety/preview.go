package safety

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/dstanton/tiller/tools"
)

// Preview describes what a pending step will do without applying it. Building
// a preview is idempotent and free of side effects, so it can be recomputed
// after a modify decision.
type Preview struct {
	StepID  string
	Tool    string
	Risk    tools.Risk
	Targets []string

	// Summary is the one-line description shown in the decision prompt.
	Summary string

	// Diff holds a patch-format rendering of content changes, when the
	// operation's effect can be expressed that way.
	Diff string
}

// BuildPreview computes the preview for one mutating step.
func BuildPreview(ctx context.Context, d *tools.Descriptor, args tools.Args, ws *tools.Workspace, stepID string, targets []string) Preview {
	p := Preview{
		StepID:  stepID,
		Tool:    d.Name,
		Risk:    d.Risk,
		Targets: targets,
	}

	switch d.Name {
	case "write_file":
		path, _ := args.String("path")
		newContent, _ := args.String("content")
		old, err := ws.ReadRaw(path)
		switch {
		case err == nil:
			p.Summary = fmt.Sprintf("overwrite %s (%d -> %d bytes)", path, len(old), len(newContent))
			p.Diff = contentDiff(string(old), newContent)
		case os.IsNotExist(err):
			p.Summary = fmt.Sprintf("create %s (%d bytes)", path, len(newContent))
			p.Diff = contentDiff("", newContent)
		default:
			p.Summary = fmt.Sprintf("write %s (current content unreadable: %v)", path, err)
		}

	case "delete_file":
		path, _ := args.String("path")
		if old, err := ws.ReadRaw(path); err == nil {
			p.Summary = fmt.Sprintf("delete %s (%d bytes)", path, len(old))
		} else {
			p.Summary = fmt.Sprintf("delete %s", path)
		}

	case "run_command":
		command, _ := args.String("command")
		p.Summary = "run: " + command

	case "git_commit":
		message, _ := args.String("message")
		paths := args.StringOr("paths", "all tracked changes")
		p.Summary = fmt.Sprintf("commit %s with message %q", paths, message)

	default:
		p.Summary = fmt.Sprintf("%s %s", d.Name, strings.Join(targets, " "))
	}

	return p
}

// contentDiff renders old -> updated as a deterministic patch.
func contentDiff(old, updated string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(old, updated)
	if len(patches) == 0 {
		return ""
	}
	return dmp.PatchToText(patches)
}

// Render formats a preview for the decision prompt.
func (p Preview) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s risk] %s\n", p.Risk, p.Summary)
	if len(p.Targets) > 0 {
		fmt.Fprintf(&sb, "targets: %s\n", strings.Join(p.Targets, ", "))
	}
	if p.Diff != "" {
		sb.WriteString(p.Diff)
	}
	return sb.String()
}
