// Package trust implements the shared trust/confidence score model.
// A single scalar in [0,1] per subject backs both inter-agent trust and
// remediation-pattern confidence: violations decay the score
// multiplicatively, clean operation recovers it linearly, and every update
// appends a time-series sample so the full trajectory is reconstructable
// for audit. The two call sites differ only in configuration constants.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/kundi/internal/audit"
)

// Level is the threshold-derived trust band for a score.
type Level string

const (
	LevelUntrusted Level = "untrusted" // score < 0.30
	LevelDegraded  Level = "degraded"  // 0.30 <= score < 0.50
	LevelCautious  Level = "cautious"  // 0.50 <= score < 0.70
	LevelNormal    Level = "normal"    // score >= 0.70
)

// LevelFor maps a score to its trust level.
func LevelFor(score float64) Level {
	switch {
	case score < 0.30:
		return LevelUntrusted
	case score < 0.50:
		return LevelDegraded
	case score < 0.70:
		return LevelCautious
	default:
		return LevelNormal
	}
}

// Sample is one append-only row in a subject's score time series.
// The current score is always the latest sample.
type Sample struct {
	SubjectID  string
	Score      float64
	Level      Level
	Reason     string // "violation", "clean_period", "initial".
	RecordedAt time.Time
}

// Store persists the append-only score time series.
type Store interface {
	// AppendSample writes a new row. Rows are never updated or deleted.
	AppendSample(ctx context.Context, s Sample) error
	// LatestSample returns the most recent row for the subject,
	// or nil if the subject has no history.
	LatestSample(ctx context.Context, subjectID string) (*Sample, error)
	// History returns up to limit rows for the subject, newest first.
	History(ctx context.Context, subjectID string, limit int) ([]Sample, error)
}

// Config holds the decay/recovery constants. Both the agent-trust and the
// remediation-confidence scorers are instances of this one primitive with
// different constants.
type Config struct {
	InitialScore    float64 // Score for a subject with no history. Default: 0.70.
	DecayFactor     float64 // Multiplier applied on violation. Default: 0.8.
	Floor           float64 // Lower bound after decay. Default: 0.0.
	RecoveryPerHour float64 // Linear recovery rate. Default: 0.01.
}

func (c Config) initial() float64 {
	if c.InitialScore > 0 {
		return c.InitialScore
	}
	return 0.70
}

func (c Config) decay() float64 {
	if c.DecayFactor > 0 {
		return c.DecayFactor
	}
	return 0.8
}

func (c Config) recovery() float64 {
	if c.RecoveryPerHour > 0 {
		return c.RecoveryPerHour
	}
	return 0.01
}

// Scorer maintains per-subject trust scores.
// Updates are serialized per scorer; reads go straight to the store.
type Scorer struct {
	mu      sync.Mutex
	store   Store
	sink    audit.Sink
	metrics *Metrics
	logger  *slog.Logger
	config  Config
}

// NewScorer creates a Scorer. A nil sink disables auditing (tests only);
// metrics may be nil.
func NewScorer(store Store, sink audit.Sink, metrics *Metrics, logger *slog.Logger, cfg Config) *Scorer {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Scorer{
		store:   store,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}
}

// Score returns the subject's current score and level.
// Subjects with no history get the configured initial score.
func (s *Scorer) Score(ctx context.Context, subjectID string) (float64, Level, error) {
	latest, err := s.store.LatestSample(ctx, subjectID)
	if err != nil {
		return 0, "", fmt.Errorf("loading trust for %s: %w", subjectID, err)
	}
	if latest == nil {
		initial := s.config.initial()
		return initial, LevelFor(initial), nil
	}
	return latest.Score, latest.Level, nil
}

// OnViolation applies multiplicative decay:
//
//	score = max(floor, score * decayFactor)
//
// Repeated violations compound; the score never resets to a baseline.
func (s *Scorer) OnViolation(ctx context.Context, subjectID string) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.Score(ctx, subjectID)
	if err != nil {
		return Sample{}, err
	}

	next := current * s.config.decay()
	if next < s.config.Floor {
		next = s.config.Floor
	}
	return s.append(ctx, subjectID, current, next, "violation")
}

// OnCleanPeriod applies linear recovery, bounded above by 1.0:
//
//	score = min(1.0, score + hours * recoveryRate)
//
// Zero hours leaves the score unchanged (but still appends no row).
func (s *Scorer) OnCleanPeriod(ctx context.Context, subjectID string, hours float64) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, level, err := s.Score(ctx, subjectID)
	if err != nil {
		return Sample{}, err
	}
	if hours <= 0 {
		return Sample{SubjectID: subjectID, Score: current, Level: level}, nil
	}

	next := current + hours*s.config.recovery()
	if next > 1.0 {
		next = 1.0
	}
	return s.append(ctx, subjectID, current, next, "clean_period")
}

func (s *Scorer) append(ctx context.Context, subjectID string, before, after float64, reason string) (Sample, error) {
	sample := Sample{
		SubjectID:  subjectID,
		Score:      after,
		Level:      LevelFor(after),
		Reason:     reason,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.store.AppendSample(ctx, sample); err != nil {
		return Sample{}, fmt.Errorf("appending trust sample for %s: %w", subjectID, err)
	}

	if s.metrics != nil {
		s.metrics.UpdatesTotal.WithLabelValues(reason).Inc()
		s.metrics.ScoreGauge.WithLabelValues(subjectID).Set(after)
	}

	_ = s.sink.Record(ctx, audit.Event{
		Actor:   "system",
		Action:  audit.ActionTrustUpdate,
		Subject: subjectID,
		Before:  fmt.Sprintf("%.4f", before),
		After:   fmt.Sprintf("%.4f", after),
		Result:  "success",
		Detail:  reason,
	})

	if sample.Level != LevelFor(before) {
		s.logger.InfoContext(ctx, "trust level changed",
			slog.String("subject_id", subjectID),
			slog.String("level", string(sample.Level)),
			slog.Float64("score", after),
			slog.String("reason", reason),
		)
	}

	return sample, nil
}

// History returns the subject's score trajectory, newest first.
func (s *Scorer) History(ctx context.Context, subjectID string, limit int) ([]Sample, error) {
	return s.store.History(ctx, subjectID, limit)
}
