package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/critique"
	"github.com/jkaninda/kundi/internal/llm"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/observability"
	"github.com/jkaninda/kundi/internal/policy"
	"github.com/jkaninda/kundi/internal/purpose"
	"github.com/jkaninda/kundi/internal/storage"
	pgstore "github.com/jkaninda/kundi/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/kundi/internal/storage/sqlite"
	"github.com/jkaninda/kundi/internal/tools"
	"github.com/jkaninda/kundi/internal/tools/database"
	mcptools "github.com/jkaninda/kundi/internal/tools/mcp"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
)

// components holds all initialized subsystems for serve mode.
// Built once by initComponents, torn down by Cleanup.
type components struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store
	Obs    *observability.Observability
	Sink   audit.Sink
	LLM    llm.Provider

	Enforcer *policy.Enforcer
	Guard    *policy.FileGuard
	Invoker  *tools.Invoker

	Mailbox  *mailbox.Mailbox
	Engine   workflow.Engine
	Scorer   *trust.Scorer
	Ledger   *purpose.Ledger
	Reviews  *critique.Engine // nil = critique disabled.
	Reviser  critique.Reviser // nil when Reviews is nil.
	Registry *agent.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// initComponents performs all initialization the serve command needs.
// Callers must call Cleanup() when done.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	co := &components{
		Config: cfg,
		Logger: logger,
	}

	// Data directory.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	co.Obs = obs
	co.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}
	reg := obs.RegistryOrNil()

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		co.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	co.Store = store
	co.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		co.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Audit sink: database always, JSONL mirror when configured.
	sink := audit.Sink(store.Audit())
	if cfg.Audit.LogPath != "" {
		jsonl, err := audit.NewJSONLSink(cfg.Audit.LogPath, logger)
		if err != nil {
			co.Cleanup()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		co.addCleanup(func() {
			if err := jsonl.Close(); err != nil {
				logger.Error("closing audit log", slog.String("error", err.Error()))
			}
		})
		sink = audit.Multi(sink, jsonl)
		logger.Debug("audit JSONL mirror enabled", slog.String("path", cfg.Audit.LogPath))
	}
	co.Sink = sink

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		co.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	co.LLM = provider
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	// Dispatcher-mode policy boundary.
	enforcer, err := policy.NewEnforcer(cfg.Policy, sink, logger)
	if err != nil {
		co.Cleanup()
		return nil, fmt.Errorf("compiling policy matrix: %w", err)
	}
	guard, err := policy.NewFileGuard(cfg.Policy.FileRules, sink, logger)
	if err != nil {
		co.Cleanup()
		return nil, fmt.Errorf("compiling file rules: %w", err)
	}
	co.Enforcer = enforcer
	co.Guard = guard
	logger.Debug("policy boundary initialized", slog.Int("roles", len(cfg.Policy.Roles)))

	// Tool registry behind the gated invoker.
	toolReg := tools.NewRegistry()
	if cfg.Tools.Database.DSN != "" {
		toolReg.Register(database.NewTool(database.Config{
			DSN:            cfg.Tools.Database.DSN,
			MaxRows:        cfg.Tools.Database.MaxRows,
			TimeoutSeconds: cfg.Tools.Database.TimeoutSeconds,
		}, logger))
	}
	if len(cfg.Tools.MCP) > 0 {
		bridge := mcptools.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, srv := range cfg.Tools.MCP {
			mcpToolList, mcpErr := bridge.ConnectAndDiscover(mcpCtx, srv)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", srv.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range mcpToolList {
				toolReg.Register(t)
			}
		}
		mcpCancel()
		co.addCleanup(bridge.Close)
	}
	cached := policy.NewCachedEnforcer(enforcer, cfg.Policy.CacheTTL)
	co.Invoker = tools.NewInvoker(toolReg, cached, guard, sink, logger)
	logger.Debug("tools registered", slog.Any("tools", toolReg.List()))

	// Mailbox substrate.
	co.Mailbox = mailbox.New(store.Mailboxes(), sink, mailbox.NewMetrics(reg), logger)

	// Trust scorer for fleet members. Attached to the invoker so policy
	// denials decay the score and low standing shrinks the tool surface.
	co.Scorer = trust.NewScorer(store.Trust(), sink, trust.NewMetrics(reg), logger, cfg.Trust.Agent.ScorerConfig())
	co.Invoker.WithTrust(co.Scorer)

	// Session purpose ledger.
	co.Ledger = purpose.NewLedger(store.Purposes(), sink, logger)

	// Workflow engine with LLM decomposition.
	decomposer := workflow.NewLLMDecomposer(provider, 0, logger)
	co.Engine = workflow.NewEngine(
		store.Workflows(), co.Mailbox, decomposer, sink,
		workflow.NewMetrics(reg), logger, cfg.Workflow.EngineConfig(),
	)

	// Critique panel.
	if cfg.Critique != nil && cfg.Critique.Enabled {
		critics := make([]critique.Critic, 0, len(cfg.Critique.Critics))
		for _, role := range cfg.Critique.Critics {
			critics = append(critics, critique.NewLLMCritic(provider, role, 0, logger))
		}
		reviews, err := critique.NewEngine(
			critics, store.Critiques(), co.Mailbox, sink,
			critique.NewMetrics(reg), logger, cfg.Critique.EngineConfig(),
		)
		if err != nil {
			co.Cleanup()
			return nil, fmt.Errorf("initializing critique engine: %w", err)
		}
		co.Reviews = reviews
		co.Reviser = critique.NewLLMReviser(provider, 0, logger)
		// Review-gated subtasks wait for a binding go from this panel.
		co.Engine.WithReviewGate(critique.NewGate(store.Critiques()))
		logger.Debug("critique engine initialized", slog.Int("critics", len(critics)))
	}

	// Fleet roster. The staleness window follows the WebSocket heartbeat
	// settings; in-process workers heartbeat through the same registry.
	co.Registry = agent.NewRegistry(cfg.Gateways.WebSocket.StaleAfter(), logger)

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", func(ctx context.Context) error {
			_, err := store.Audit().Query(ctx, "", 1)
			return err
		})
	}

	return co, nil
}

// initStore creates the storage backend selected by config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return pgstore.Open(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
	case storage.DriverSQLite:
		sq := sqlitestore.Config{Path: cfg.DatabasePath(), JournalMode: "wal"}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sq.Path = cfg.Storage.SQLite.Path
			}
			if cfg.Storage.SQLite.JournalMode != "" {
				sq.JournalMode = cfg.Storage.SQLite.JournalMode
			}
		}
		return sqlitestore.Open(sq, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// newLLMProvider creates the configured provider with retry and an
// optional fallback chain.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			chain, err := llm.NewFallbackProvider(providers, logger)
			if err != nil {
				return nil, err
			}
			return llm.NewRetryingProvider(chain, 3, time.Second, logger), nil
		}
	}

	return llm.NewRetryingProvider(primary, 3, time.Second, logger), nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "openai", "":
		var opts []llm.OpenAIOption
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return llm.NewOpenAIClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return llm.NewOpenAIClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			llm.WithBaseURL(baseURL),
			llm.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
