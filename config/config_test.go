package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0].Name != "anthropic" {
		t.Errorf("default providers = %v", cfg.Providers)
	}
	if cfg.Gateway.StreakThreshold != 2 {
		t.Errorf("streak threshold = %d", cfg.Gateway.StreakThreshold)
	}
	if cfg.Safety.ModifyRetries != 1 {
		t.Errorf("modify retries = %d", cfg.Safety.ModifyRetries)
	}
	if !cfg.Executor.HaltDependents {
		t.Error("halt_dependents should default to true")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: ollama
    model: llama3.2
gateway:
  streak_threshold: 5
  cooldown: 1m
  call_timeout: 90s
safety:
  modify_retries: 2
  auto_approve: true
  auto_approve_threshold: 0.9
  auto_approve_min_samples: 3
executor:
  strict_mode: true
  halt_dependents: true
  history_size: 10
  perceive_timeout: 5s
  repeat_window: 4
tools: [read_file, glob]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Model != "llama3.2" {
		t.Errorf("providers = %v", cfg.Providers)
	}
	if cfg.Gateway.Cooldown != time.Minute {
		t.Errorf("cooldown = %v", cfg.Gateway.Cooldown)
	}
	if cfg.Safety.ModifyRetries != 2 || !cfg.Safety.AutoApprove {
		t.Errorf("safety = %+v", cfg.Safety)
	}
	if !cfg.Executor.StrictMode || cfg.Executor.RepeatWindow != 4 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if len(cfg.Tools) != 2 {
		t.Errorf("tools = %v", cfg.Tools)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no providers",
			content: "providers: []\n",
			wantErr: "at least one provider",
		},
		{
			name: "duplicate provider",
			content: `
providers:
  - name: openai
  - name: openai
`,
			wantErr: "listed twice",
		},
		{
			name: "negative modify retries",
			content: `
providers: [{name: openai}]
safety:
  modify_retries: -1
`,
			wantErr: "modify_retries",
		},
		{
			name: "threshold out of range",
			content: `
providers: [{name: openai}]
safety:
  modify_retries: 1
  auto_approve_threshold: 1.5
`,
			wantErr: "auto_approve_threshold",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}
