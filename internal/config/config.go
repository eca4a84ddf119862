// Package config handles loading and validating Kundi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/kundi/internal/critique"
	"github.com/jkaninda/kundi/internal/policy"
	mcptool "github.com/jkaninda/kundi/internal/tools/mcp"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kundi.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.kundi/data. Override: KUNDI_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Policy        policy.Config        `json:"policy" yaml:"policy"`
	Trust         TrustConfig          `json:"trust" yaml:"trust"`
	Critique      *CritiqueConfig      `json:"critique,omitempty" yaml:"critique,omitempty"` // nil = critique engine disabled
	Workflow      WorkflowConfig       `json:"workflow" yaml:"workflow"`
	Agents        []FleetAgentConfig   `json:"agents,omitempty" yaml:"agents,omitempty"` // In-process worker fleet.
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics/tracing disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = background sweeps disabled
	Audit         AuditConfig          `json:"audit" yaml:"audit"`
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: KUNDI_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// TrustConfig holds the decay/recovery constants for both scorers.
// The agent scorer tracks fleet members; the remediation scorer tracks
// confidence in automated fixes.
type TrustConfig struct {
	Agent       TrustScorerConfig `json:"agent" yaml:"agent"`
	Remediation TrustScorerConfig `json:"remediation" yaml:"remediation"`
}

// TrustScorerConfig configures one score series.
type TrustScorerConfig struct {
	InitialScore    float64 `json:"initial_score" yaml:"initial_score"`         // Default: 0.70.
	DecayFactor     float64 `json:"decay_factor" yaml:"decay_factor"`           // Default: 0.8.
	Floor           float64 `json:"floor" yaml:"floor"`                         // Default: 0.0.
	RecoveryPerHour float64 `json:"recovery_per_hour" yaml:"recovery_per_hour"` // Default: 0.01.
}

// ScorerConfig converts to the domain scorer constants.
func (t TrustScorerConfig) ScorerConfig() trust.Config {
	return trust.Config{
		InitialScore:    t.InitialScore,
		DecayFactor:     t.DecayFactor,
		Floor:           t.Floor,
		RecoveryPerHour: t.RecoveryPerHour,
	}
}

// CritiqueConfig configures the adversarial review engine.
// When nil, submissions skip review entirely.
type CritiqueConfig struct {
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	Critics               []string `json:"critics" yaml:"critics"`                                 // Critic roles to run each round.
	MaxRounds             int      `json:"max_rounds" yaml:"max_rounds"`                           // Default: 3.
	CriticTimeoutSeconds  int      `json:"critic_timeout_seconds" yaml:"critic_timeout_seconds"`   // Default: 30.
	SessionTimeoutSeconds int      `json:"session_timeout_seconds" yaml:"session_timeout_seconds"` // Default: 300.
	EscalationTarget      string   `json:"escalation_target" yaml:"escalation_target"`             // Mailbox for interventions. Default: "intervention".
}

// EngineConfig converts to the domain engine configuration.
func (c *CritiqueConfig) EngineConfig() critique.Config {
	cfg := critique.Config{EscalationTarget: c.EscalationTarget, MaxRounds: c.MaxRounds}
	if c.CriticTimeoutSeconds > 0 {
		cfg.CriticTimeout = time.Duration(c.CriticTimeoutSeconds) * time.Second
	}
	if c.SessionTimeoutSeconds > 0 {
		cfg.SessionTimeout = time.Duration(c.SessionTimeoutSeconds) * time.Second
	}
	return cfg
}

// WorkflowConfig configures the workflow engine.
type WorkflowConfig struct {
	MaxAttempts         int `json:"max_attempts" yaml:"max_attempts"`                   // Default: 3.
	RetryBackoffSeconds int `json:"retry_backoff_seconds" yaml:"retry_backoff_seconds"` // Default: 5.
	MaxSubtasks         int `json:"max_subtasks" yaml:"max_subtasks"`                   // Default: 100.
}

// EngineConfig converts to the domain engine configuration.
func (w WorkflowConfig) EngineConfig() workflow.Config {
	cfg := workflow.Config{MaxAttempts: w.MaxAttempts, MaxSubtasks: w.MaxSubtasks}
	if w.RetryBackoffSeconds > 0 {
		cfg.RetryBackoff = time.Duration(w.RetryBackoffSeconds) * time.Second
	}
	return cfg
}

// FleetAgentConfig declares one in-process worker agent.
type FleetAgentConfig struct {
	ID                  string   `json:"id" yaml:"id"`
	Role                string   `json:"role" yaml:"role"`
	Tier                string   `json:"tier" yaml:"tier"` // "core", "domain", or "support".
	Capabilities        []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	System              string   `json:"system,omitempty" yaml:"system,omitempty"`           // System prompt for the executor.
	PollIntervalSeconds int      `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 1.
	BatchSize           int      `json:"batch_size" yaml:"batch_size"`                       // Default: 10.
}

// PollInterval returns the mailbox poll interval with a default of 1s.
func (f FleetAgentConfig) PollInterval() time.Duration {
	if f.PollIntervalSeconds > 0 {
		return time.Duration(f.PollIntervalSeconds) * time.Second
	}
	return time.Second
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"` // WebSocket server for remote agents.
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool            `json:"enabled" yaml:"enabled"`
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"`             // Default: ":8080".
	APIKey              string          `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: KUNDI_API_KEY env var. Empty = unauthenticated.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`             // Serve interactive OpenAPI docs.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the WebSocket server for agent connections.
type WebSocketGatewayConfig struct {
	Enabled                  bool   `json:"enabled" yaml:"enabled"`
	Path                     string `json:"path" yaml:"path"`                                             // URL path for WebSocket endpoint. Default: "/ws/agents".
	AgentToken               string `json:"agent_token" yaml:"agent_token"`                               // Shared token. Override: KUNDI_AGENT_TOKEN env var.
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"` // Default: 30.
	StaleAfterSeconds        int    `json:"stale_after_seconds" yaml:"stale_after_seconds"`               // Registry staleness window. Default: 90.
}

// WSPath returns the WebSocket path with a default of "/ws/agents".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/agents"
}

// WSHeartbeatInterval returns the heartbeat interval with a default of 30s.
func (w *WebSocketGatewayConfig) WSHeartbeatInterval() time.Duration {
	if w != nil && w.HeartbeatIntervalSeconds > 0 {
		return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// StaleAfter returns the registry staleness window with a default of 90s.
func (w *WebSocketGatewayConfig) StaleAfter() time.Duration {
	if w != nil && w.StaleAfterSeconds > 0 {
		return time.Duration(w.StaleAfterSeconds) * time.Second
	}
	return 90 * time.Second
}

// RateLimitConfig configures per-caller rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ProvidersConfig selects LLM backends for planner, workers, and critics.
type ProvidersConfig struct {
	Default  string       `json:"default" yaml:"default"`                       // "openai" or "ollama". Empty = "openai".
	Fallback []string     `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Fallback providers tried in order when default fails.
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama   OllamaConfig `json:"ollama" yaml:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// ToolsConfig configures individual tool settings.
type ToolsConfig struct {
	Database DatabaseToolConfig     `json:"database" yaml:"database"`
	MCP      []mcptool.ServerConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"` // External MCP tool servers.
}

// DatabaseToolConfig configures the read-only database query tool.
type DatabaseToolConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`                         // Connection string. Override: KUNDI_TOOL_DB_DSN env var.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`               // Maximum rows per query. Default: 1000.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query timeout. Default: 30.
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kundi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// SchedulerConfig configures the background sweep jobs.
// When nil, no sweeps run: retries park until the next result-driven dispatch.
type SchedulerConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	DispatchSpec     string `json:"dispatch_spec" yaml:"dispatch_spec"`           // Cron spec for the retry/dispatch sweep. Default: "@every 30s".
	HeartbeatSpec    string `json:"heartbeat_spec" yaml:"heartbeat_spec"`         // Cron spec for the stale-agent sweep. Default: "@every 1m".
	TrustRecoverSpec string `json:"trust_recover_spec" yaml:"trust_recover_spec"` // Cron spec for clean-period recovery. Default: "@hourly".
}

// DispatchCron returns the dispatch sweep spec with its default.
func (s *SchedulerConfig) DispatchCron() string {
	if s != nil && s.DispatchSpec != "" {
		return s.DispatchSpec
	}
	return "@every 30s"
}

// HeartbeatCron returns the stale-agent sweep spec with its default.
func (s *SchedulerConfig) HeartbeatCron() string {
	if s != nil && s.HeartbeatSpec != "" {
		return s.HeartbeatSpec
	}
	return "@every 1m"
}

// TrustRecoverCron returns the clean-period recovery spec with its default.
func (s *SchedulerConfig) TrustRecoverCron() string {
	if s != nil && s.TrustRecoverSpec != "" {
		return s.TrustRecoverSpec
	}
	return "@hourly"
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	LogPath string `json:"log_path" yaml:"log_path"` // JSONL mirror path. Empty = database only.
}

// DefaultConfigPath returns the default config file path (~/.kundi/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kundi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kundi", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Provider API keys and gateway tokens can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
// Env vars take precedence over config values.
func applyEnvOverrides(cfg *Config) {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		cfg.Providers.OpenAI.APIKey = envKey
	}
	if envDD := os.Getenv("KUNDI_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("KUNDI_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envDSN := os.Getenv("KUNDI_TOOL_DB_DSN"); envDSN != "" {
		cfg.Tools.Database.DSN = envDSN
	}
	if envKey := os.Getenv("KUNDI_API_KEY"); envKey != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		cfg.Gateways.HTTP.APIKey = envKey
	}
	if envTok := os.Getenv("KUNDI_AGENT_TOKEN"); envTok != "" {
		if cfg.Gateways.WebSocket == nil {
			cfg.Gateways.WebSocket = &WebSocketGatewayConfig{}
		}
		cfg.Gateways.WebSocket.AgentToken = envTok
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".kundi", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "kundi.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

// Validate checks the configuration for structural errors. Exported so
// the hot-reload watcher can reject a bad file before swapping it in.
func (c *Config) Validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}

	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set KUNDI_DB_DSN env var)")
		}
	}

	// The policy matrix must compile: bad overrides (widening the
	// orchestrator into the exclusion set) fail here, not at runtime.
	if _, err := policy.NewEnforcer(c.Policy, nil, nil); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := policy.NewFileGuard(c.Policy.FileRules, nil, nil); err != nil {
		return fmt.Errorf("policy.file_rules: %w", err)
	}

	// Trust constants must stay inside [0, 1].
	for name, t := range map[string]TrustScorerConfig{"agent": c.Trust.Agent, "remediation": c.Trust.Remediation} {
		if t.InitialScore < 0 || t.InitialScore > 1 {
			return fmt.Errorf("trust.%s.initial_score must be in [0, 1]", name)
		}
		if t.DecayFactor < 0 || t.DecayFactor > 1 {
			return fmt.Errorf("trust.%s.decay_factor must be in [0, 1]", name)
		}
		if t.Floor < 0 || t.Floor > 1 {
			return fmt.Errorf("trust.%s.floor must be in [0, 1]", name)
		}
	}

	// Critique roster.
	if c.Critique != nil && c.Critique.Enabled && len(c.Critique.Critics) == 0 {
		return fmt.Errorf("critique.critics must contain at least one critic when enabled")
	}

	// Fleet agent declarations.
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.Role == "" {
			return fmt.Errorf("agents[%d] (%q): role is required", i, a.ID)
		}
		switch a.Tier {
		case "", "core", "domain", "support":
			// valid
		default:
			return fmt.Errorf("agents[%d] (%q): tier must be core, domain, or support", i, a.ID)
		}
	}

	// MCP server config validation.
	mcpNames := make(map[string]bool, len(c.Tools.MCP))
	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("tools.mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("tools.mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use openai or ollama)", c.Providers.Default)
	}
	return nil
}
