package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
data_dir: /tmp/kundi-test
providers:
  default: ollama
  ollama:
    model: llama3
policy:
  roles:
    builder:
      denied_tools: [infra_destroy]
  overrides:
    - project: acme
      role: builder
      allow: [db_read]
  file_rules:
    - pattern: "secrets/**"
      tier: zero_access
trust:
  agent:
    initial_score: 0.7
    decay_factor: 0.8
critique:
  enabled: true
  critics: [security-critic, correctness-critic]
  max_rounds: 2
workflow:
  max_attempts: 4
  retry_backoff_seconds: 10
agents:
  - id: builder-1
    role: builder
    tier: core
gateways:
  http:
    enabled: true
    listen_addr: ":9090"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadValidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "kundi.yaml", validYAML))
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Providers.Default != "ollama" {
		t.Errorf("default provider = %q", cfg.Providers.Default)
	}
	if got := cfg.Workflow.EngineConfig(); got.MaxAttempts != 4 || got.RetryBackoff != 10*time.Second {
		t.Errorf("workflow engine config = %+v", got)
	}
	if got := cfg.Critique.EngineConfig(); got.MaxRounds != 2 {
		t.Errorf("critique max rounds = %d", got.MaxRounds)
	}
	if cfg.Gateways.HTTP.Addr() != ":9090" {
		t.Errorf("http addr = %q", cfg.Gateways.HTTP.Addr())
	}
	if len(cfg.Policy.Overrides) != 1 || cfg.Policy.Overrides[0].Project != "acme" {
		t.Errorf("policy overrides = %+v", cfg.Policy.Overrides)
	}
}

func TestLoadRejectsOrchestratorWidening(t *testing.T) {
	bad := `
providers:
  default: ollama
  ollama:
    model: llama3
policy:
  overrides:
    - project: acme
      role: orchestrator
      allow: [shell_exec]
`
	_, err := Load(writeConfig(t, "kundi.yaml", bad))
	if err == nil {
		t.Fatal("expected policy validation error")
	}
}

func TestLoadRejectsBadTrustConstants(t *testing.T) {
	bad := `
providers:
  default: ollama
  ollama:
    model: llama3
trust:
  agent:
    decay_factor: 1.5
`
	_, err := Load(writeConfig(t, "kundi.yaml", bad))
	if err == nil {
		t.Fatal("expected trust validation error")
	}
}

func TestLoadRejectsEmptyCriticRoster(t *testing.T) {
	bad := `
providers:
  default: ollama
  ollama:
    model: llama3
critique:
  enabled: true
`
	_, err := Load(writeConfig(t, "kundi.yaml", bad))
	if err == nil {
		t.Fatal("expected critique validation error")
	}
}

func TestLoadRejectsDuplicateAgentID(t *testing.T) {
	bad := `
providers:
  default: ollama
  ollama:
    model: llama3
agents:
  - id: builder-1
    role: builder
  - id: builder-1
    role: reviewer
`
	_, err := Load(writeConfig(t, "kundi.yaml", bad))
	if err == nil {
		t.Fatal("expected duplicate agent error")
	}
}

func TestWatcherDeliversReload(t *testing.T) {
	path := writeConfig(t, "kundi.yaml", validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, logger, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	updated := validYAML + "\nscheduler:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(updated), 0600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Scheduler == nil || !cfg.Scheduler.Enabled {
			t.Errorf("reloaded config missing scheduler section: %+v", cfg.Scheduler)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	<-done
}

func TestWatcherKeepsPreviousOnBadFile(t *testing.T) {
	path := writeConfig(t, "kundi.yaml", validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, logger, func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(":::not yaml"), 0600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Fatalf("bad file delivered a reload: %+v", cfg)
	case <-time.After(time.Second):
		// No reload is the expected outcome.
	}
}
