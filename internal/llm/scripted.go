package llm

import (
	"context"
	"sync"
)

// ScriptedProvider returns canned responses in order. Used by tests and
// by dry-run deployments that exercise the coordination paths without a
// live model.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int
}

var _ Provider = (*ScriptedProvider)(nil)

func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{}
}

// Respond queues a successful response.
func (s *ScriptedProvider) Respond(text string) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, &Response{Text: text, Model: "scripted"})
	s.errs = append(s.errs, nil)
	return s
}

// Fail queues an error response.
func (s *ScriptedProvider) Fail(err error) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, nil)
	s.errs = append(s.errs, err)
	return s
}

func (s *ScriptedProvider) Name() string { return "scripted" }

// Calls returns how many completions were requested.
func (s *ScriptedProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Complete replays the queued script. Past the end of the script the
// last entry repeats.
func (s *ScriptedProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return &Response{Text: "", Model: "scripted"}, nil
	}
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	if s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}
