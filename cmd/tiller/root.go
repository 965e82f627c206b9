package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dstanton/tiller/agentloop"
	"github.com/dstanton/tiller/config"
	"github.com/dstanton/tiller/llmrouter"
	"github.com/dstanton/tiller/memstore"
	"github.com/dstanton/tiller/safety"
	"github.com/dstanton/tiller/tools"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var workspaceDir string

	root := &cobra.Command{
		Use:   "tiller",
		Short: "Interactive coding agent with previewed, checkpointed edits",
		Long: `tiller converts natural-language requests into file and VCS operations.
Every mutating step is previewed, approved, and checkpointed before it runs,
and outcomes feed a persistent preference store that biases future plans.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if workspaceDir != "" {
				cfg.Workspace = workspaceDir
			}
			return runSession(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.tiller/config.yaml)")
	root.Flags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace root (default current directory)")

	root.AddCommand(newResetCmd(&configPath))
	root.AddCommand(newStatsCmd(&configPath))

	return root
}

func openMemory(configPath string) (*memstore.Store, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closeLog, err := newLogger(cfg.LogFile)
	if err != nil {
		return nil, nil, nil, err
	}

	dir := cfg.MemoryDir
	if dir == "" {
		dir = config.DefaultMemoryDir()
	}
	store, err := memstore.Open(memstore.Config{Dir: dir}, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = store.Close()
		closeLog()
	}
	return store, logger, cleanup, nil
}

func newResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Erase all learned preferences and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cleanup, err := openMemory(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "memory store reset")
			return nil
		},
	}
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show approval statistics and provider trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, cleanup, err := openMemory(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			approvals, err := store.Approvals()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "decisions: %d approved, %d rejected\n", approvals.Approved, approvals.Rejected)

			trends, err := store.ProviderTrends()
			if err != nil {
				return err
			}
			for provider, outcomes := range trends {
				fmt.Fprintf(out, "%s:", provider)
				for outcome, count := range outcomes {
					fmt.Fprintf(out, " %s=%d", outcome, count)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

// runSession wires every component and runs the interactive turn loop until
// EOF or interrupt.
func runSession(ctx context.Context, cfg config.Config) error {
	logger, closeLog, err := newLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	ws, err := tools.NewWorkspace(cfg.Workspace)
	if err != nil {
		return err
	}

	memDir := cfg.MemoryDir
	if memDir == "" {
		memDir = config.DefaultMemoryDir()
	}
	store, err := memstore.Open(memstore.Config{Dir: memDir}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := tools.NewRegistry(ws)
	tools.RegisterBuiltins(registry, cfg.Tools)
	tools.RegisterGitTools(registry)

	arena := safety.NewArena(ws)
	safety.RegisterCheckpointTools(registry, arena)

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	router := llmrouter.NewRouter(providers,
		llmrouter.WithSchemas(registry),
		llmrouter.WithConfig(llmrouter.Config{
			StreakThreshold: cfg.Gateway.StreakThreshold,
			Cooldown:        cfg.Gateway.Cooldown,
			CallTimeout:     cfg.Gateway.CallTimeout,
		}),
		llmrouter.WithTelemetry(func(ev llmrouter.TelemetryEvent) {
			store.RecordTelemetry(ev.Provider, ev.Outcome)
			logger.Debug("provider attempt",
				"provider", ev.Provider, "outcome", ev.Outcome, "latency", ev.Latency)
		}),
	)
	defer router.Close()

	decider := newTerminalDecider(os.Stdin, os.Stdout)
	gate := safety.NewGate(registry, ws, arena, decider, store, safety.GateConfig{
		ModifyRetries:         cfg.Safety.ModifyRetries,
		AutoApprove:           cfg.Safety.AutoApprove,
		AutoApproveThreshold:  cfg.Safety.AutoApproveThreshold,
		AutoApproveMinSamples: cfg.Safety.AutoApproveMinSamples,
	})

	renderer := &lineRenderer{out: os.Stdout}
	exec := agentloop.NewExecutor(ws, registry, router, gate, store, renderer, agentloop.Config{
		StrictMode:       cfg.Executor.StrictMode,
		HaltDependents:   cfg.Executor.HaltDependents,
		HistorySize:      cfg.Executor.HistorySize,
		PerceiveTimeout:  cfg.Executor.PerceiveTimeout,
		RepeatWindow:     cfg.Executor.RepeatWindow,
		PlanHistoryDepth: 5,
	})
	defer exec.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("session started", "session_id", exec.SessionID(), "workspace", ws.Root())
	fmt.Printf("tiller ready in %s (ctrl-d to exit)\n", ws.Root())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		report, err := exec.RunTurn(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			logger.Error("turn failed", "error", err)
			continue
		}
		logger.Info("turn complete",
			"plan_id", report.PlanID, "outcomes", report.OutcomesSummary())
	}

	fmt.Println("bye")
	return scanner.Err()
}

// buildProviders constructs the gateway chain from configuration.
func buildProviders(cfg config.Config) ([]llmrouter.Provider, error) {
	providers := make([]llmrouter.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		opts := []llmrouter.GollmOption{}
		if pc.Model != "" {
			opts = append(opts, llmrouter.WithModel(pc.Model))
		}
		if pc.APIKeyEnv != "" {
			if key := os.Getenv(pc.APIKeyEnv); key != "" {
				opts = append(opts, llmrouter.WithAPIKey(key))
			}
		}
		p, err := llmrouter.NewGollmProvider(pc.Name, opts...)
		if err != nil {
			return nil, fmt.Errorf("configure provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// lineRenderer prints the session report as plain lines.
type lineRenderer struct {
	out io.Writer
}

func (r *lineRenderer) RenderReport(report agentloop.Report) {
	if report.ReasoningFailed {
		fmt.Fprintf(r.out, "\nno plan available: %s\n", report.FailureNotice)
		return
	}
	if report.PlanSummary != "" {
		fmt.Fprintf(r.out, "\nplan: %s\n", report.PlanSummary)
	}
	for _, s := range report.Steps {
		switch s.Status {
		case agentloop.StatusSuccess:
			fmt.Fprintf(r.out, "  ok   %s (%s)\n", s.Tool, s.StepID)
		case agentloop.StatusFailure:
			fmt.Fprintf(r.out, "  FAIL %s (%s): %s\n", s.Tool, s.StepID, s.Detail)
		case agentloop.StatusSkipped:
			fmt.Fprintf(r.out, "  skip %s (%s): %s\n", s.Tool, s.StepID, s.Detail)
		}
		if s.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
				fmt.Fprintf(r.out, "       %s\n", line)
			}
		}
	}
	succeeded, failed, skipped := report.Counts()
	fmt.Fprintf(r.out, "%d succeeded, %d failed, %d skipped\n", succeeded, failed, skipped)
	if report.Aborted {
		fmt.Fprintf(r.out, "turn aborted: %s\ninspect the workspace manually before continuing\n", report.FailureNotice)
	}
}
