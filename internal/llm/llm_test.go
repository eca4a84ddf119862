package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestRetryRecoversFromTransient(t *testing.T) {
	transient := Transient(errors.New("upstream 503"))
	inner := NewScriptedProvider().Fail(transient).Fail(transient).Respond("ok")

	r := NewRetryingProvider(inner, 3, time.Millisecond, testLogger())
	r.sleep = noSleep

	resp, err := r.Complete(context.Background(), &Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q, want ok", resp.Text)
	}
	if inner.Calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.Calls())
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("invalid request")
	inner := NewScriptedProvider().Fail(permanent).Respond("never reached")

	r := NewRetryingProvider(inner, 3, time.Millisecond, testLogger())
	r.sleep = noSleep

	if _, err := r.Complete(context.Background(), &Request{Prompt: "p"}); !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error surfaced, got %v", err)
	}
	if inner.Calls() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on content errors)", inner.Calls())
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	transient := Transient(errors.New("rate limited"))
	inner := NewScriptedProvider().Fail(transient)

	r := NewRetryingProvider(inner, 3, time.Millisecond, testLogger())
	r.sleep = noSleep

	if _, err := r.Complete(context.Background(), &Request{Prompt: "p"}); err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if inner.Calls() != 3 {
		t.Errorf("calls = %d, want 3", inner.Calls())
	}
}

func TestFallbackTriesNextOnTransient(t *testing.T) {
	primary := NewScriptedProvider().Fail(Transient(errors.New("down")))
	secondary := NewScriptedProvider().Respond("from secondary")

	f, err := NewFallbackProvider([]Provider{primary, secondary}, testLogger())
	if err != nil {
		t.Fatalf("NewFallbackProvider: %v", err)
	}
	resp, err := f.Complete(context.Background(), &Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "from secondary" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestFallbackDoesNotMaskPermanentErrors(t *testing.T) {
	permanent := errors.New("context too long")
	primary := NewScriptedProvider().Fail(permanent)
	secondary := NewScriptedProvider().Respond("should not run")

	f, err := NewFallbackProvider([]Provider{primary, secondary}, testLogger())
	if err != nil {
		t.Fatalf("NewFallbackProvider: %v", err)
	}
	if _, err := f.Complete(context.Background(), &Request{Prompt: "p"}); !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if secondary.Calls() != 0 {
		t.Error("secondary provider was called for a permanent failure")
	}
}

func TestFallbackRequiresProviders(t *testing.T) {
	if _, err := NewFallbackProvider(nil, testLogger()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestOpenAIClassifiesErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"x"}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", "m", testLogger(), WithBaseURL(srv.URL))

	_, err := c.Complete(context.Background(), &Request{Prompt: "p"})
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}

	status = http.StatusBadRequest
	_, err = c.Complete(context.Background(), &Request{Prompt: "p"})
	if err == nil || IsTransient(err) {
		t.Errorf("400 should be permanent, got %v", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != completionsPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key", "gpt-test", testLogger(), WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), &Request{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello" || resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
}
