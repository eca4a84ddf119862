package critique

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/kundi/internal/audit"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
)

var (
	ErrNoCritics       = errors.New("critique panel is empty")
	ErrConsensusFailed = errors.New("consensus not reached within the revision cap")
	ErrSessionTimeout  = errors.New("critique session exceeded its time ceiling")
)

// Config bounds a critique session. Zero values use defaults.
type Config struct {
	MaxRounds        int           // Review rounds before escalation.
	CriticTimeout    time.Duration // Per-critic budget within a round.
	SessionTimeout   time.Duration // Wall-clock ceiling for the whole review chain.
	EscalationTarget string        // Mailbox that receives interventions.
}

func (c Config) maxRounds() int {
	if c.MaxRounds <= 0 {
		return 3
	}
	return c.MaxRounds
}

func (c Config) criticTimeout() time.Duration {
	if c.CriticTimeout <= 0 {
		return 30 * time.Second
	}
	return c.CriticTimeout
}

func (c Config) sessionTimeout() time.Duration {
	if c.SessionTimeout <= 0 {
		return 5 * time.Minute
	}
	return c.SessionTimeout
}

func (c Config) escalationTarget() string {
	if c.EscalationTarget == "" {
		return "intervention"
	}
	return c.EscalationTarget
}

// Engine runs critique sessions against a fixed critic panel.
type Engine struct {
	critics []Critic
	store   Store
	mbox    *mailbox.Mailbox
	sink    audit.Sink
	metrics *Metrics
	logger  *slog.Logger
	config  Config
	now     func() time.Time
}

// NewEngine wires a critique engine. At least one critic is required.
func NewEngine(
	critics []Critic,
	store Store,
	mbox *mailbox.Mailbox,
	sink audit.Sink,
	metrics *Metrics,
	logger *slog.Logger,
	config Config,
) (*Engine, error) {
	if len(critics) == 0 {
		return nil, ErrNoCritics
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Engine{
		critics: critics,
		store:   store,
		mbox:    mbox,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}, nil
}

// Evaluate reviews the target. GO and NOGO are binding verdicts that
// close the round's session decided; CONDITIONAL mandates a revision,
// which closes the session as revised and opens a successor for the
// revised artifact. When the cap is exhausted still at CONDITIONAL, a
// revision is impossible (nil reviser), or the chain ceiling expires,
// the review fails and escalates to a human via an intervention message;
// the returned error is ErrConsensusFailed or ErrSessionTimeout. The
// last session of the chain is returned in every outcome.
func (e *Engine) Evaluate(ctx context.Context, target *Target, reviser Reviser) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.sessionTimeout())
	defer cancel()

	content := target.Content
	var prior *Session

	for round := 1; ; round++ {
		session := &Session{
			ID:          uuid.New(),
			WorkflowID:  target.WorkflowID,
			Phase:       target.Phase,
			ContentHash: HashContent(content),
			Round:       round,
			State:       SessionInProgress,
			Content:     content,
			CreatedAt:   e.now().UTC(),
		}
		if prior != nil {
			priorID := prior.ID
			session.PriorSessionID = &priorID
		}
		if err := e.store.CreateSession(ctx, session); err != nil {
			return prior, fmt.Errorf("creating critique session: %w", err)
		}
		e.logger.InfoContext(ctx, "critique session opened",
			slog.String("session_id", session.ID.String()),
			slog.String("phase", target.Phase),
			slog.Int("round", round),
			slog.String("content_hash", session.ContentHash[:12]),
			slog.Int("critics", len(e.critics)),
		)

		findings := e.fanOut(ctx, session.ID, round, &Target{
			WorkflowID: target.WorkflowID,
			SessionID:  target.SessionID,
			Phase:      target.Phase,
			Content:    content,
		})
		for i := range findings {
			if err := e.store.AppendFinding(ctx, &findings[i]); err != nil {
				return session, fmt.Errorf("recording finding: %w", err)
			}
			e.auditFinding(ctx, session, &findings[i])
		}

		if ctx.Err() != nil {
			return e.escalate(ctx, session, content,
				"critique session exceeded its time ceiling", ErrSessionTimeout)
		}

		verdict := Consensus(findings)
		_ = e.sink.Record(ctx, audit.Event{
			Actor:   "critique-engine",
			Action:  audit.ActionCritiqueConsensus,
			Subject: session.ID.String(),
			After:   string(verdict),
			Result:  "ok",
			Detail:  fmt.Sprintf("round=%d findings=%d", round, len(findings)),
		})
		if e.metrics != nil {
			e.metrics.RoundsTotal.WithLabelValues(string(verdict)).Inc()
		}

		// GO and NOGO are binding: NOGO is the rejection, never revised
		// away.
		if verdict != VerdictConditional {
			closed := e.now().UTC()
			session.State = SessionDecided
			session.Verdict = verdict
			session.ClosedAt = &closed
			if err := e.store.UpdateSession(ctx, session); err != nil {
				return session, fmt.Errorf("closing critique session: %w", err)
			}
			e.logger.InfoContext(ctx, "critique session decided",
				slog.String("session_id", session.ID.String()),
				slog.String("verdict", string(verdict)),
				slog.Int("round", round),
			)
			return session, nil
		}

		// CONDITIONAL: revision is mandatory.
		if round == e.config.maxRounds() || reviser == nil {
			return e.escalate(ctx, session, content,
				"revision cap exhausted without go", ErrConsensusFailed)
		}

		revised, err := reviser.Revise(ctx, content, findings)
		if err != nil {
			closed := e.now().UTC()
			session.State = SessionFailed
			session.Verdict = VerdictConditional
			session.ClosedAt = &closed
			_ = e.store.UpdateSession(ctx, session)
			return session, fmt.Errorf("revising after round %d: %w", round, err)
		}

		// The revision retracts the round's findings: one new append-only
		// row per addressed finding, never an edit of the original.
		now := e.now().UTC()
		for i := range findings {
			origID := findings[i].ID
			retraction := Finding{
				ID:         uuid.New(),
				SessionID:  session.ID,
				Round:      round,
				Critic:     "reviser",
				Type:       findings[i].Type,
				Severity:   findings[i].Severity,
				Summary:    "addressed by revision",
				Supersedes: &origID,
				CreatedAt:  now,
			}
			if err := e.store.AppendFinding(ctx, &retraction); err != nil {
				return session, fmt.Errorf("recording retraction: %w", err)
			}
		}

		closed := e.now().UTC()
		session.State = SessionRevised
		session.Verdict = VerdictConditional
		session.ClosedAt = &closed
		if err := e.store.UpdateSession(ctx, session); err != nil {
			return session, fmt.Errorf("closing revised session: %w", err)
		}
		if e.metrics != nil {
			e.metrics.RevisionsTotal.Inc()
		}
		e.logger.InfoContext(ctx, "critique round revised",
			slog.String("session_id", session.ID.String()),
			slog.Int("round", round),
		)

		content = revised
		prior = session
	}
}

// Sessions returns all critique sessions recorded for a workflow.
func (e *Engine) Sessions(ctx context.Context, workflowID uuid.UUID) ([]Session, error) {
	return e.store.ListSessionsByWorkflow(ctx, workflowID)
}

// Findings returns the full append-only finding history of a session.
func (e *Engine) Findings(ctx context.Context, sessionID uuid.UUID) ([]Finding, error) {
	return e.store.ListFindings(ctx, sessionID)
}

// fanOut runs every critic in parallel with a per-critic timeout. A
// critic that errors or overruns contributes zero findings to the round;
// review never blocks on one slow panelist.
func (e *Engine) fanOut(ctx context.Context, sessionID uuid.UUID, round int, target *Target) []Finding {
	var mu sync.Mutex
	var collected []Finding

	g, gctx := errgroup.WithContext(ctx)
	for _, critic := range e.critics {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.config.criticTimeout())
			defer cancel()

			findings, err := critic.Review(cctx, target)
			if err != nil {
				e.logger.WarnContext(ctx, "critic failed, contributing no findings",
					slog.String("critic", critic.Name()),
					slog.Int("round", round),
					slog.String("error", err.Error()),
				)
				if e.metrics != nil {
					e.metrics.CriticFailuresTotal.WithLabelValues(critic.Name()).Inc()
				}
				return nil
			}
			now := e.now().UTC()
			mu.Lock()
			for _, f := range findings {
				f.ID = uuid.New()
				f.SessionID = sessionID
				f.Round = round
				f.Critic = critic.Name()
				f.Type, _ = ParseFindingType(string(f.Type))
				f.CreatedAt = now
				collected = append(collected, f)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return collected
}

// escalate closes the round's session failed and posts an intervention
// to the human gateway mailbox at inject priority.
func (e *Engine) escalate(ctx context.Context, session *Session, content, reason string, cause error) (*Session, error) {
	closed := e.now().UTC()
	session.State = SessionFailed
	session.Verdict = VerdictConditional
	session.Content = content
	session.ClosedAt = &closed
	// Escalation must proceed even when the session context is spent.
	if err := e.store.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
		return session, fmt.Errorf("closing escalated session: %w", err)
	}

	sendCtx := context.WithoutCancel(ctx)
	wfID := session.WorkflowID
	payload := protocol.InterventionPayload{
		Reason:     fmt.Sprintf("critique session %s: %s (round %d, phase %s)", session.ID, reason, session.Round, session.Phase),
		Severity:   "critical",
		WorkflowID: &wfID,
	}
	if _, err := e.mbox.Send(sendCtx, "critique-engine", e.config.escalationTarget(), payload, mailbox.PriorityInject); err != nil {
		e.logger.ErrorContext(sendCtx, "intervention delivery failed",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	_ = e.sink.Record(sendCtx, audit.Event{
		Actor:   "critique-engine",
		Action:  audit.ActionCritiqueEscalation,
		Subject: session.ID.String(),
		Result:  "escalated",
		Detail:  reason,
	})
	if e.metrics != nil {
		e.metrics.EscalationsTotal.Inc()
	}
	e.logger.WarnContext(sendCtx, "critique session escalated",
		slog.String("session_id", session.ID.String()),
		slog.String("reason", reason),
	)
	return session, cause
}

func (e *Engine) auditFinding(ctx context.Context, session *Session, f *Finding) {
	_ = e.sink.Record(ctx, audit.Event{
		Actor:   f.Critic,
		Action:  audit.ActionCritiqueFinding,
		Subject: session.ID.String(),
		After:   string(f.Severity),
		Result:  "ok",
		Detail:  f.Summary,
	})
	if e.metrics != nil {
		e.metrics.FindingsTotal.WithLabelValues(string(f.Severity)).Inc()
	}
}
