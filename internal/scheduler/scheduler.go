// Package scheduler runs the background sweeps that keep the fleet
// converging without request traffic: re-dispatching parked retries,
// marking silent agents unhealthy, and applying clean-period trust
// recovery.
//
// Core invariant: sweeps never bypass the engine. Retries flow through
// DispatchReady with the same policy and audit path as result-driven
// dispatch.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/kundi/internal/agent"
	"github.com/jkaninda/kundi/internal/config"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/ratelimit"
	"github.com/jkaninda/kundi/internal/trust"
	"github.com/jkaninda/kundi/internal/workflow"
)

// How long a rate-limit bucket may sit idle before housekeeping drops it.
const limiterIdleWindow = time.Hour

// Scheduler owns the cron runner and the three sweep jobs.
type Scheduler struct {
	engine   workflow.Engine
	store    workflow.Store
	registry *agent.Registry
	scorer   *trust.Scorer
	metrics  *Metrics
	logger   *slog.Logger
	config   *config.SchedulerConfig

	// Optional unhealthy-agent notices delivered to an operator mailbox.
	mailbox     *mailbox.Mailbox
	notifyAgent string

	// Optional rate limiter housekeeping.
	limiter *ratelimit.Limiter

	cron *cron.Cron

	lastTrustSweep time.Time
}

// New creates a Scheduler. The registry and scorer may be nil; their
// sweeps are skipped.
func New(engine workflow.Engine, store workflow.Store, registry *agent.Registry, scorer *trust.Scorer, metrics *Metrics, logger *slog.Logger, cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		engine:   engine,
		store:    store,
		registry: registry,
		scorer:   scorer,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}
}

// WithUnhealthyNotices delivers a system notice to the given agent's
// mailbox whenever the stale sweep marks a fleet member down.
func (s *Scheduler) WithUnhealthyNotices(mb *mailbox.Mailbox, agentID string) *Scheduler {
	s.mailbox = mb
	s.notifyAgent = agentID
	return s
}

// WithLimiter adds idle-bucket pruning to the heartbeat sweep.
func (s *Scheduler) WithLimiter(l *ratelimit.Limiter) *Scheduler {
	s.limiter = l
	return s
}

// Start registers the sweep jobs and begins the cron runner. Returns a
// stop function that blocks until running jobs finish.
func (s *Scheduler) Start(ctx context.Context) (func(), error) {
	s.cron = cron.New()
	s.lastTrustSweep = time.Now().UTC()

	if _, err := s.cron.AddFunc(s.config.DispatchCron(), func() { s.dispatchSweep(ctx) }); err != nil {
		return nil, err
	}
	if s.registry != nil {
		if _, err := s.cron.AddFunc(s.config.HeartbeatCron(), func() { s.heartbeatSweep(ctx) }); err != nil {
			return nil, err
		}
	}
	if s.scorer != nil && s.registry != nil {
		if _, err := s.cron.AddFunc(s.config.TrustRecoverCron(), func() { s.trustSweep(ctx) }); err != nil {
			return nil, err
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("dispatch", s.config.DispatchCron()),
		slog.String("heartbeat", s.config.HeartbeatCron()),
		slog.String("trust_recover", s.config.TrustRecoverCron()),
	)

	return func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.logger.Info("scheduler stopped")
	}, nil
}

// dispatchSweep re-runs DispatchReady over every live workflow. Subtasks
// whose retry backoff has expired are picked up here; everything else is
// a no-op because dispatch is idempotent.
func (s *Scheduler) dispatchSweep(ctx context.Context) {
	start := time.Now()

	live, err := s.store.ListWorkflows(ctx, []workflow.Status{workflow.StatusPending, workflow.StatusRunning})
	if err != nil {
		s.logger.ErrorContext(ctx, "dispatch sweep failed to list workflows",
			slog.String("error", err.Error()),
		)
		return
	}

	resent := 0
	for i := range live {
		n, err := s.engine.DispatchReady(ctx, live[i].ID)
		if err != nil {
			s.logger.WarnContext(ctx, "dispatch sweep failed for workflow",
				slog.String("workflow_id", live[i].ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		resent += n
	}

	if resent > 0 {
		s.logger.InfoContext(ctx, "dispatch sweep resent subtasks",
			slog.Int("count", resent),
			slog.Int("workflows", len(live)),
		)
	}

	if s.metrics != nil {
		s.metrics.DispatchSweeps.Inc()
		s.metrics.SubtasksResent.Add(float64(resent))
		s.metrics.SweepDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	}
}

// heartbeatSweep marks agents that stopped heartbeating as unhealthy and
// notifies the operator mailbox.
func (s *Scheduler) heartbeatSweep(ctx context.Context) {
	start := time.Now()

	stale := s.registry.SweepStale()
	for _, agentID := range stale {
		s.logger.WarnContext(ctx, "agent marked unhealthy",
			slog.String("agent_id", agentID),
		)
		if s.mailbox != nil && s.notifyAgent != "" {
			_, err := s.mailbox.Send(ctx, "scheduler", s.notifyAgent, protocol.SystemPayload{
				Event:  protocol.SystemAgentUnhealthy,
				Detail: agentID,
			}, mailbox.PriorityHigh)
			if err != nil {
				s.logger.WarnContext(ctx, "unhealthy notice failed",
					slog.String("agent_id", agentID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.limiter != nil {
		s.limiter.Prune(limiterIdleWindow)
	}

	if s.metrics != nil {
		s.metrics.AgentsMarkedDown.Add(float64(len(stale)))
		s.metrics.SweepDuration.WithLabelValues("heartbeat").Observe(time.Since(start).Seconds())
	}
}

// trustSweep applies clean-period recovery to every healthy agent. The
// recovery amount is proportional to the real elapsed time since the
// last sweep, so a changed cron spec never over- or under-credits.
func (s *Scheduler) trustSweep(ctx context.Context) {
	start := time.Now()
	hours := start.UTC().Sub(s.lastTrustSweep).Hours()
	s.lastTrustSweep = start.UTC()
	if hours <= 0 {
		return
	}

	recovered := 0
	for _, a := range s.registry.List() {
		if !a.Healthy {
			continue
		}
		if _, err := s.scorer.OnCleanPeriod(ctx, a.ID, hours); err != nil {
			s.logger.WarnContext(ctx, "trust recovery failed",
				slog.String("agent_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.InfoContext(ctx, "trust recovery applied",
			slog.Int("agents", recovered),
			slog.Float64("hours", hours),
		)
	}

	if s.metrics != nil {
		s.metrics.TrustRecoveries.Add(float64(recovered))
		s.metrics.SweepDuration.WithLabelValues("trust").Observe(time.Since(start).Seconds())
	}
}
