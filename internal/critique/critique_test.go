package critique

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kundi/internal/llm"
	"github.com/jkaninda/kundi/internal/mailbox"
	"github.com/jkaninda/kundi/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func approvingCritic(name string) Critic {
	return CriticFunc{CriticName: name, Fn: func(_ context.Context, _ *Target) ([]Finding, error) {
		return nil, nil
	}}
}

func objectingCritic(name string, sev Severity) Critic {
	return CriticFunc{CriticName: name, Fn: func(_ context.Context, _ *Target) ([]Finding, error) {
		return []Finding{{Severity: sev, Summary: "objection from " + name}}, nil
	}}
}

func newTestEngine(t *testing.T, critics []Critic, cfg Config) (*Engine, *mailbox.Mailbox, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	mbox := mailbox.New(mailbox.NewInMemoryStore(), nil, nil, testLogger())
	eng, err := NewEngine(critics, store, mbox, nil, nil, testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, mbox, store
}

func TestConsensus(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     Verdict
	}{
		{"no findings", nil, VerdictGo},
		{"advisory only", []Finding{{Severity: SeverityMedium}, {Severity: SeverityLow}}, VerdictGo},
		{"high mandates revision", []Finding{{Severity: SeverityLow}, {Severity: SeverityHigh}}, VerdictConditional},
		{"critical blocks", []Finding{{Severity: SeverityHigh}, {Severity: SeverityCritical}}, VerdictNoGo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Consensus(tc.findings); got != tc.want {
				t.Errorf("Consensus() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestConsensusIgnoresRetractedFindings(t *testing.T) {
	orig := Finding{ID: uuid.New(), Severity: SeverityCritical, Summary: "open port"}
	origID := orig.ID
	retraction := Finding{
		ID:         uuid.New(),
		Severity:   SeverityCritical,
		Summary:    "addressed by revision",
		Supersedes: &origID,
	}
	if got := Consensus([]Finding{orig, retraction}); got != VerdictGo {
		t.Errorf("Consensus() = %s, want go (critical retracted)", got)
	}
}

func TestGateClearsOnlyOnLatestGo(t *testing.T) {
	store := NewInMemoryStore()
	gate := NewGate(store)
	ctx := context.Background()
	wfID := uuid.New()

	cleared, err := gate.Cleared(ctx, wfID)
	if err != nil || cleared {
		t.Fatalf("Cleared with no sessions = %v, %v; want false", cleared, err)
	}

	base := time.Now().UTC()
	if err := store.CreateSession(ctx, &Session{
		ID: uuid.New(), WorkflowID: wfID, Phase: "plan", Round: 1,
		State: SessionDecided, Verdict: VerdictGo, CreatedAt: base,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	cleared, err = gate.Cleared(ctx, wfID)
	if err != nil || !cleared {
		t.Fatalf("Cleared after go = %v, %v; want true", cleared, err)
	}

	// A later failed review re-blocks dispatch.
	if err := store.CreateSession(ctx, &Session{
		ID: uuid.New(), WorkflowID: wfID, Phase: "plan", Round: 1,
		State: SessionFailed, Verdict: VerdictConditional, CreatedAt: base.Add(time.Second),
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	cleared, err = gate.Cleared(ctx, wfID)
	if err != nil || cleared {
		t.Fatalf("Cleared after failed review = %v, %v; want false", cleared, err)
	}
}

func TestEngineRequiresCritics(t *testing.T) {
	_, err := NewEngine(nil, NewInMemoryStore(), nil, nil, nil, testLogger(), Config{})
	if !errors.Is(err, ErrNoCritics) {
		t.Fatalf("expected ErrNoCritics, got %v", err)
	}
}

func TestCleanPassDecidesGo(t *testing.T) {
	eng, _, _ := newTestEngine(t, []Critic{
		approvingCritic("security"),
		approvingCritic("correctness"),
	}, Config{})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(),
		Phase:      "design",
		Content:    "the artifact",
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if session.State != SessionDecided || session.Verdict != VerdictGo {
		t.Errorf("session = %s/%s, want decided/go", session.State, session.Verdict)
	}
	if session.Round != 1 {
		t.Errorf("round = %d, want 1", session.Round)
	}
	if session.ContentHash != HashContent("the artifact") {
		t.Error("content hash does not pin the reviewed artifact")
	}
}

func TestCriticalFindingIsBindingNoGo(t *testing.T) {
	// A critical finding is the rejection itself. The reviser must never
	// get a chance to revise it away.
	eng, _, _ := newTestEngine(t, []Critic{
		objectingCritic("security", SeverityCritical),
	}, Config{MaxRounds: 3})

	reviserCalled := false
	reviser := ReviserFunc(func(_ context.Context, content string, _ []Finding) (string, error) {
		reviserCalled = true
		return content + " patched", nil
	})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "draft",
	}, reviser)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if session.State != SessionDecided || session.Verdict != VerdictNoGo {
		t.Errorf("session = %s/%s, want decided/nogo", session.State, session.Verdict)
	}
	if session.Round != 1 {
		t.Errorf("round = %d, want 1", session.Round)
	}
	if reviserCalled {
		t.Error("reviser ran on a binding nogo")
	}
}

func TestConditionalTriggersRevision(t *testing.T) {
	// Critic raises a high finding until the artifact contains the fix.
	critic := CriticFunc{CriticName: "performance", Fn: func(_ context.Context, tgt *Target) ([]Finding, error) {
		if !strings.Contains(tgt.Content, "fixed") {
			return []Finding{{Severity: SeverityHigh, Summary: "n+1 query"}}, nil
		}
		return nil, nil
	}}
	eng, _, store := newTestEngine(t, []Critic{critic}, Config{MaxRounds: 3})

	revisions := 0
	reviser := ReviserFunc(func(_ context.Context, content string, findings []Finding) (string, error) {
		revisions++
		if len(findings) == 0 {
			t.Error("reviser called without blocking findings")
		}
		return content + " fixed", nil
	})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "draft",
	}, reviser)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if session.Verdict != VerdictGo || session.Round != 2 {
		t.Errorf("final session = %s at round %d, want go at round 2", session.Verdict, session.Round)
	}
	if revisions != 1 {
		t.Errorf("revisions = %d, want 1", revisions)
	}
	if session.Content != "draft fixed" {
		t.Errorf("final content = %q", session.Content)
	}

	// The revision opened a new session chained to the first.
	if session.PriorSessionID == nil {
		t.Fatal("successor session lost its prior reference")
	}
	prior, err := store.GetSession(context.Background(), *session.PriorSessionID)
	if err != nil {
		t.Fatalf("GetSession(prior): %v", err)
	}
	if prior.State != SessionRevised || prior.Round != 1 {
		t.Errorf("prior session = %s/round %d, want revised/1", prior.State, prior.Round)
	}

	// The original finding is untouched; the retraction is a new row.
	findings, err := store.ListFindings(context.Background(), prior.ID)
	if err != nil {
		t.Fatalf("ListFindings: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("prior session findings = %d, want original plus retraction", len(findings))
	}
	var original, retraction *Finding
	for i := range findings {
		if findings[i].Supersedes == nil {
			original = &findings[i]
		} else {
			retraction = &findings[i]
		}
	}
	if original == nil || retraction == nil {
		t.Fatalf("missing original or retraction: %+v", findings)
	}
	if *retraction.Supersedes != original.ID {
		t.Error("retraction does not reference the original finding")
	}
	if original.Summary != "n+1 query" {
		t.Errorf("original row was edited: %q", original.Summary)
	}
}

func TestCapExhaustionEscalates(t *testing.T) {
	eng, mbox, _ := newTestEngine(t, []Critic{
		objectingCritic("performance", SeverityHigh),
	}, Config{MaxRounds: 2, EscalationTarget: "human-gateway"})

	reviser := ReviserFunc(func(_ context.Context, content string, _ []Finding) (string, error) {
		return content + " again", nil
	})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "hopeless",
	}, reviser)
	if !errors.Is(err, ErrConsensusFailed) {
		t.Fatalf("expected ErrConsensusFailed, got %v", err)
	}
	if session.State != SessionFailed || session.Verdict != VerdictConditional {
		t.Errorf("session = %s/%s, want failed/conditional", session.State, session.Verdict)
	}
	if session.Round != 2 {
		t.Errorf("round = %d, want 2", session.Round)
	}

	// The intervention lands at inject priority in the human mailbox.
	msgs, err := mbox.Receive(context.Background(), "human-gateway", 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != protocol.MsgIntervention {
		t.Fatalf("intervention missing: %d messages", len(msgs))
	}
	if msgs[0].Priority != mailbox.PriorityInject {
		t.Errorf("intervention priority = %d, want %d", msgs[0].Priority, mailbox.PriorityInject)
	}
}

func TestFailingCriticContributesNothing(t *testing.T) {
	eng, _, _ := newTestEngine(t, []Critic{
		CriticFunc{CriticName: "flaky", Fn: func(_ context.Context, _ *Target) ([]Finding, error) {
			return nil, errors.New("model unavailable")
		}},
		approvingCritic("steady"),
	}, Config{})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "x",
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if session.Verdict != VerdictGo {
		t.Errorf("verdict = %s, want go (failed critic contributes zero findings)", session.Verdict)
	}
}

func TestSlowCriticIsCutOff(t *testing.T) {
	slow := CriticFunc{CriticName: "slow", Fn: func(ctx context.Context, _ *Target) ([]Finding, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []Finding{{Severity: SeverityCritical, Summary: "too late"}}, nil
		}
	}}
	eng, _, _ := newTestEngine(t, []Critic{slow, approvingCritic("fast")}, Config{
		CriticTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "x",
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("round blocked on slow critic for %s", elapsed)
	}
	if session.Verdict != VerdictGo {
		t.Errorf("verdict = %s, want go", session.Verdict)
	}
}

func TestSessionCeilingEscalates(t *testing.T) {
	stall := CriticFunc{CriticName: "stall", Fn: func(ctx context.Context, _ *Target) ([]Finding, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	eng, mbox, _ := newTestEngine(t, []Critic{stall}, Config{
		SessionTimeout: 30 * time.Millisecond,
		CriticTimeout:  time.Minute,
	})

	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "x",
	}, nil)
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("expected ErrSessionTimeout, got %v", err)
	}
	if session.State != SessionFailed {
		t.Errorf("session state = %s, want failed", session.State)
	}
	msgs, _ := mbox.Receive(context.Background(), "intervention", 10)
	if len(msgs) != 1 {
		t.Errorf("expected one intervention message, got %d", len(msgs))
	}
}

func TestReviserErrorFailsSession(t *testing.T) {
	eng, _, _ := newTestEngine(t, []Critic{
		objectingCritic("performance", SeverityHigh),
	}, Config{MaxRounds: 3})

	boom := errors.New("reviser crashed")
	session, err := eng.Evaluate(context.Background(), &Target{
		WorkflowID: uuid.New(), Phase: "impl", Content: "x",
	}, ReviserFunc(func(_ context.Context, _ string, _ []Finding) (string, error) {
		return "", boom
	}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected reviser error, got %v", err)
	}
	if session.State != SessionFailed {
		t.Errorf("session state = %s, want failed", session.State)
	}
}

func TestLLMCriticParsesFindings(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond(
		"```json\n[{\"type\":\"data_handling_issue\",\"severity\":\"HIGH\",\"summary\":\"token logged in plaintext\",\"detail\":\"line 4\"}]\n```",
	)
	critic := NewLLMCritic(provider, "security", 0, testLogger())

	findings, err := critic.Review(context.Background(), &Target{Phase: "impl", Content: "code"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Type != TypeDataHandling {
		t.Errorf("type = %s, want data_handling_issue", findings[0].Type)
	}
	if findings[0].Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", findings[0].Severity)
	}
	if findings[0].Summary != "token logged in plaintext" {
		t.Errorf("summary = %q", findings[0].Summary)
	}
}

func TestLLMCriticNoObjections(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond("[]")
	critic := NewLLMCritic(provider, "correctness", 0, testLogger())

	findings, err := critic.Review(context.Background(), &Target{Phase: "impl", Content: "code"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %d, want 0", len(findings))
	}
}

func TestLLMCriticRejectsProseOutput(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond("looks fine to me")
	critic := NewLLMCritic(provider, "security", 0, testLogger())

	if _, err := critic.Review(context.Background(), &Target{Phase: "impl", Content: "code"}); err == nil {
		t.Fatal("expected parse error for prose output")
	}
}

func TestLLMCriticNormalizesUnknownSeverity(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond(`[{"severity":"blocker","summary":"odd label"}]`)
	critic := NewLLMCritic(provider, "security", 0, testLogger())

	findings, err := critic.Review(context.Background(), &Target{Phase: "impl", Content: "code"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if findings[0].Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium fallback", findings[0].Severity)
	}
}

func TestLLMCriticNormalizesUnknownType(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond(`[{"type":"style_nit","severity":"low","summary":"odd label"}]`)
	critic := NewLLMCritic(provider, "security", 0, testLogger())

	findings, err := critic.Review(context.Background(), &Target{Phase: "impl", Content: "code"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if findings[0].Type != TypeMaintainability {
		t.Errorf("type = %s, want maintainability_concern fallback", findings[0].Type)
	}
}

func TestLLMReviserRewrites(t *testing.T) {
	provider := llm.NewScriptedProvider().Respond("revised artifact")
	reviser := NewLLMReviser(provider, 0, testLogger())

	out, err := reviser.Revise(context.Background(), "original", []Finding{
		{Severity: SeverityCritical, Summary: "broken"},
	})
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if out != "revised artifact" {
		t.Errorf("out = %q", out)
	}
}
