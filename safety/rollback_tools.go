package safety

import (
	"context"
	"fmt"
	"strings"

	"github.com/dstanton/tiller/tools"
)

// RegisterCheckpointTools exposes the arena through the registry so the user
// (or a plan) can inspect and restore checkpoints directly.
func RegisterCheckpointTools(r *tools.Registry, arena *Arena) {
	r.Register(tools.Descriptor{
		Name:        "list_checkpoints",
		Description: "List retained checkpoints, oldest first",
		Schema:      tools.Schema{},
		Mutating:    false,
		Risk:        tools.RiskLow,
		Run: func(ctx context.Context, args tools.Args, ws *tools.Workspace) tools.Outcome {
			cps := arena.List()
			if len(cps) == 0 {
				return tools.Outcome{Success: true, Output: "no checkpoints retained"}
			}
			var sb strings.Builder
			for _, cp := range cps {
				sb.WriteString(cp.Describe())
				sb.WriteByte('\n')
			}
			return tools.Outcome{Success: true, Output: sb.String()}
		},
	})

	r.Register(tools.Descriptor{
		Name:        "restore_checkpoint",
		Description: "Restore workspace state captured by a checkpoint",
		Schema: tools.Schema{
			"id": {Type: tools.TypeInt, Required: true},
		},
		Mutating: true,
		Risk:     tools.RiskHigh,
		Targets: func(args tools.Args) []string {
			id, _ := args.Int("id")
			if cp, ok := arena.Get(id); ok {
				return cp.Targets
			}
			return nil
		},
		Run: func(ctx context.Context, args tools.Args, ws *tools.Workspace) tools.Outcome {
			id, _ := args.Int("id")
			if _, ok := arena.Get(id); !ok {
				return tools.Outcome{Error: fmt.Sprintf("no checkpoint with id %d", id)}
			}
			if err := arena.Restore(ctx, id); err != nil {
				return tools.Outcome{Error: err.Error()}
			}
			return tools.Outcome{Success: true, Output: fmt.Sprintf("restored checkpoint %d", id)}
		},
	})
}
