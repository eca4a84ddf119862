package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestPayloadValidation(t *testing.T) {
	subtask := uuid.New()
	workflow := uuid.New()

	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{
			name:    "valid task",
			payload: TaskPayload{SubtaskID: subtask, WorkflowID: workflow, Description: "build the parser", Attempt: 1},
		},
		{
			name:    "task missing description",
			payload: TaskPayload{SubtaskID: subtask, WorkflowID: workflow, Attempt: 1},
			wantErr: true,
		},
		{
			name:    "task zero attempt",
			payload: TaskPayload{SubtaskID: subtask, WorkflowID: workflow, Description: "x", Attempt: 0},
			wantErr: true,
		},
		{
			name:    "valid completed result",
			payload: ResultPayload{SubtaskID: subtask, WorkflowID: workflow, Status: ResultCompleted, Output: "done"},
		},
		{
			name:    "failed result without error text",
			payload: ResultPayload{SubtaskID: subtask, WorkflowID: workflow, Status: ResultFailed},
			wantErr: true,
		},
		{
			name:    "result unknown status",
			payload: ResultPayload{SubtaskID: subtask, Status: "maybe"},
			wantErr: true,
		},
		{
			name:    "valid async result",
			payload: AsyncResultPayload{RequestID: uuid.New(), Origin: "researcher-1", Summary: "crawl finished"},
		},
		{
			name:    "async result missing summary",
			payload: AsyncResultPayload{RequestID: uuid.New(), Origin: "researcher-1"},
			wantErr: true,
		},
		{
			name:    "valid intervention",
			payload: InterventionPayload{Reason: "consensus failed after max revisions", Severity: "critical"},
		},
		{
			name:    "intervention bad severity",
			payload: InterventionPayload{Reason: "x", Severity: "low"},
			wantErr: true,
		},
		{
			name:    "valid system notice",
			payload: SystemPayload{Event: SystemCancelRequested},
		},
		{
			name:    "system unknown event",
			payload: SystemPayload{Event: "rebooted"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("expected ErrInvalidPayload, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode(TaskPayload{})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	original := TaskPayload{
		SubtaskID:   uuid.New(),
		WorkflowID:  uuid.New(),
		Description: "summarize findings",
		Input:       "corpus v2",
		Attempt:     2,
	}
	raw, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(MsgTask, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	task, ok := decoded.(TaskPayload)
	if !ok {
		t.Fatalf("decoded wrong variant: %T", decoded)
	}
	if task != original {
		t.Fatalf("round trip mismatch: got %+v want %+v", task, original)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode("gossip", []byte(`{}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodeValidatesStoredPayload(t *testing.T) {
	// A stored payload that fails structural validation must not be
	// surfaced to consumers.
	_, err := Decode(MsgIntervention, []byte(`{"reason":"","severity":"critical"}`))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	frame, err := NewFrame(FrameRegister, RegisterFrame{
		AgentID:      "builder-1",
		Role:         "builder",
		Tier:         "domain",
		Capabilities: []string{"code", "review"},
		Version:      "v0.1.0",
	})
	if err != nil {
		t.Fatalf("new frame: %v", err)
	}
	if frame.ID == "" {
		t.Fatal("frame ID must be populated")
	}

	var reg RegisterFrame
	if err := frame.DecodePayload(&reg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if reg.AgentID != "builder-1" || len(reg.Capabilities) != 2 {
		t.Fatalf("payload mismatch: %+v", reg)
	}
}
