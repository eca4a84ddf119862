package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/gateway/httpapi"
	"github.com/jkaninda/kundi/internal/gateway/ws"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/observability"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/ratelimit"
	"github.com/jkaninda/kundi/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordination substrate (HTTP API, WebSocket, workers, scheduler)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `kundi --config path` and `kundi serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts the full substrate: storage, engines, in-process
// workers, gateways, background sweeps, and the config watcher.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfgPath := goutils.Env("KUNDI_CONFIG", serveConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting kundi", slog.String("config", cfgPath))

	co, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer co.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-process worker fleet.
	startWorkers(ctx, cfg, co)

	// WebSocket server for remote agents (optional).
	var wsServer *ws.Server
	if cfg.Gateways.WebSocket != nil && cfg.Gateways.WebSocket.Enabled {
		wsServer = ws.NewServer(co.Registry, co.Mailbox, co.Engine, cfg.Gateways.WebSocket, obsMetrics(co), logger)
		logger.Debug("websocket server initialized",
			slog.String("path", cfg.Gateways.WebSocket.WSPath()),
		)
	}

	// Rate limiter for the HTTP gateway; the scheduler prunes its idle
	// buckets during the heartbeat sweep.
	var limiter *ratelimit.Limiter
	if cfg.Gateways.HTTP != nil && cfg.Gateways.HTTP.Enabled {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Gateways.HTTP.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.Gateways.HTTP.RateLimit.BurstSize,
		})
	}

	// Background sweeps (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched := scheduler.New(
			co.Engine, co.Store.Workflows(), co.Registry, co.Scorer,
			scheduler.NewMetrics(co.Obs.RegistryOrNil()), logger, cfg.Scheduler,
		).WithUnhealthyNotices(co.Mailbox, operatorMailbox(cfg))
		if limiter != nil {
			sched = sched.WithLimiter(limiter)
		}
		stopSched, err := sched.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer stopSched()
		logger.Debug("scheduler started",
			slog.String("dispatch", cfg.Scheduler.DispatchCron()),
			slog.String("heartbeat", cfg.Scheduler.HeartbeatCron()),
		)
	}

	// Config hot reload: a changed file re-compiles the policy matrix and
	// notifies every registered agent.
	watcher := config.NewWatcher(cfgPath, logger, func(newCfg *config.Config) {
		if err := co.Enforcer.Replace(newCfg.Policy); err != nil {
			logger.Error("policy hot reload rejected", slog.String("error", err.Error()))
			return
		}
		notifyConfigReload(ctx, co)
		logger.Info("policy matrix hot reloaded")
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Error("config watcher exited", slog.String("error", err.Error()))
		}
	}()

	// Build enabled gateways.
	gateways := buildGateways(cfg, co, wsServer, limiter)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gatewayRunner) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// gatewayRunner is the common lifecycle of the HTTP gateway and the
// standalone WebSocket listener.
type gatewayRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// startWorkers launches one mailbox-polling worker per configured agent.
func startWorkers(ctx context.Context, cfg *config.Config, co *components) {
	for _, ac := range cfg.Agents {
		executor := agent.Executor(agent.NewLLMExecutor(co.LLM, ac.Role, ac.System, 0, co.Logger))
		// All workers route structured tool calls through the gated
		// invoker; plain tasks fall through to the model.
		executor = agent.NewToolTaskExecutor(co.Invoker, ac.ID, ac.Role, executor, co.Logger)

		w := agent.NewWorker(
			agent.Agent{
				ID:           ac.ID,
				Role:         ac.Role,
				Tier:         agentTier(ac.Tier),
				Capabilities: ac.Capabilities,
			},
			co.Mailbox, co.Engine, executor, co.Registry, co.Logger,
			agent.WorkerConfig{PollInterval: ac.PollInterval(), BatchSize: ac.BatchSize},
		)
		go func(w *agent.Worker, id string) {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				co.Logger.Error("worker exited",
					slog.String("agent_id", id),
					slog.String("error", err.Error()),
				)
			}
		}(w, ac.ID)
	}
	if len(cfg.Agents) > 0 {
		co.Logger.Info("in-process fleet started", slog.Int("workers", len(cfg.Agents)))
	}
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, co *components, wsServer *ws.Server, limiter *ratelimit.Limiter) []gatewayRunner {
	var gws []gatewayRunner
	gwCfg := cfg.Gateways

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIKey:         gwCfg.HTTP.APIKey,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
		}
		if co.Obs != nil {
			httpCfg.Metrics = co.Obs.Metrics
			httpCfg.HealthChecker = co.Obs.Health
			httpCfg.MetricsRegistry = co.Obs.RegistryOrNil()
			if co.Obs.Tracer != nil {
				httpCfg.Tracer = co.Obs.Tracer.Tracer()
			}
			if cfg.Observability != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}

		httpGW = httpapi.NewGateway(httpCfg, co.Engine, limiter, co.Logger).
			WithRegistry(co.Registry).
			WithMailbox(co.Mailbox).
			WithTrust(co.Scorer).
			WithPurposes(co.Ledger).
			WithAudit(co.Store.Audit())
		if co.Reviews != nil {
			httpGW.WithCritiques(co.Reviews, co.Reviser)
		}
	}

	// Mount the WebSocket agent handler on the HTTP gateway if both are
	// enabled; otherwise give it its own listener.
	if wsServer != nil {
		wsPath := gwCfg.WebSocket.WSPath()
		if httpGW != nil {
			httpGW.WithHandler(wsPath, wsServer.Handler())
			co.Logger.Debug("websocket agent endpoint mounted on http gateway",
				slog.String("path", wsPath),
			)
		} else {
			gws = append(gws, newStandaloneWSGateway(wsServer, ":8081", wsPath, co.Logger))
			co.Logger.Debug("gateway enabled",
				slog.String("type", "websocket"),
				slog.String("addr", ":8081"),
				slog.String("path", wsPath),
			)
		}
	}

	if httpGW != nil {
		gws = append(gws, httpGW)
		co.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("critiques", co.Reviews != nil),
			slog.Bool("websocket", wsServer != nil),
		)
	}

	return gws
}

// obsMetrics unwraps the shared metrics collector, nil when disabled.
func obsMetrics(co *components) *observability.MetricsCollector {
	if co.Obs == nil {
		return nil
	}
	return co.Obs.Metrics
}

// operatorMailbox picks the recipient for unhealthy-agent notices: the
// first core-tier agent in the fleet, or the conventional orchestrator
// mailbox when none is configured.
func operatorMailbox(cfg *config.Config) string {
	for _, a := range cfg.Agents {
		if a.Tier == "core" {
			return a.ID
		}
	}
	return "orchestrator"
}

// agentTier maps the config tier string onto the registry type.
func agentTier(tier string) agent.Tier {
	switch tier {
	case "core":
		return agent.TierCore
	case "support":
		return agent.TierSupport
	default:
		return agent.TierDomain
	}
}

// notifyConfigReload drops a high-priority notice in every registered
// agent's mailbox after a successful hot reload.
func notifyConfigReload(ctx context.Context, co *components) {
	for _, a := range co.Registry.List() {
		_, err := co.Mailbox.Send(ctx, "config-watcher", a.ID, protocol.SystemPayload{
			Event:  protocol.SystemConfigReloaded,
			Detail: "policy matrix replaced",
		}, mailbox.PriorityHigh)
		if err != nil {
			co.Logger.Warn("reload notice failed",
				slog.String("agent_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// standaloneWSGateway wraps a ws.Server for deployments that run the
// WebSocket endpoint without the HTTP API gateway.
type standaloneWSGateway struct {
	wsServer   *ws.Server
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(wsServer *ws.Server, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		wsServer: wsServer,
		addr:     addr,
		path:     path,
		logger:   logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.wsServer.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
