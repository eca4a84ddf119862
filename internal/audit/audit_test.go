package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Record(_ context.Context, e Event) error {
	s.events = append(s.events, e)
	return s.err
}

func TestMultiFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	sink := Multi(a, nil, b)

	if err := sink.Record(context.Background(), Event{
		Actor:  "builder-1",
		Action: ActionMailboxSend,
		Result: "success",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event, got %d/%d", len(a.events), len(b.events))
	}
	if a.events[0].Timestamp.IsZero() {
		t.Fatal("multi sink must stamp events before fan-out")
	}
}

func TestMultiReturnsFirstErrorAfterAllSinks(t *testing.T) {
	failure := errors.New("disk full")
	a := &recordingSink{err: failure}
	b := &recordingSink{}

	err := Multi(a, b).Record(context.Background(), Event{Action: ActionTrustUpdate})
	if !errors.Is(err, failure) {
		t.Fatalf("expected first sink error, got %v", err)
	}
	if len(b.events) != 1 {
		t.Fatal("later sinks must still receive the event after an earlier failure")
	}
}

func TestMultiCollapses(t *testing.T) {
	if _, ok := Multi().(NopSink); !ok {
		t.Fatal("zero sinks should collapse to NopSink")
	}
	only := &recordingSink{}
	if got := Multi(nil, only); got != Sink(only) {
		t.Fatal("single sink should be returned as-is")
	}
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sink, err := NewJSONLSink(path, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	for _, action := range []string{ActionPolicyViolation, ActionSubtaskTransition} {
		if err := sink.Record(ctx, Event{
			Actor:   "orchestrator",
			Action:  action,
			Subject: "subtask-1",
			Result:  "denied",
		}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Action != ActionPolicyViolation || lines[1].Action != ActionSubtaskTransition {
		t.Fatalf("append order not preserved: %+v", lines)
	}
	if lines[0].Timestamp.IsZero() {
		t.Fatal("events must be stamped on write")
	}
}
