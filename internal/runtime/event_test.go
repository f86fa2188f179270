package runtime

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent([]byte(`{
		"id": "e1",
		"author": "helper",
		"content": {"role": "model", "parts": [
			{"text": "hello"},
			{"functionCall": {"name": "lookup", "args": {"q": "x"}}},
			{"functionResponse": {"name": "lookup", "response": {"ok": true}}}
		]}
	}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	parts := ev.Parts()
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if parts[0].Text != "hello" {
		t.Errorf("parts[0].Text = %q, want %q", parts[0].Text, "hello")
	}
	if parts[1].FunctionCall == nil || parts[1].FunctionCall.Name != "lookup" {
		t.Errorf("parts[1].FunctionCall = %+v", parts[1].FunctionCall)
	}
	if parts[2].FunctionResponse == nil || parts[2].FunctionResponse.Name != "lookup" {
		t.Errorf("parts[2].FunctionResponse = %+v", parts[2].FunctionResponse)
	}
}

func TestParseEvent_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		runtime bool
	}{
		{"not json", `not json`, false},
		{"array", `[1,2]`, false},
		{"runner error", `{"error": "boom"}`, true},
		{"error code", `{"errorCode": "SAFETY", "errorMessage": "blocked"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrRuntimeEvent); got != tt.runtime {
				t.Errorf("errors.Is(ErrRuntimeEvent) = %v, want %v", got, tt.runtime)
			}
		})
	}
}

func TestEventParts_NoContent(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent([]byte(`{"id":"e1","turnComplete":true}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if parts := ev.Parts(); len(parts) != 0 {
		t.Fatalf("Parts() = %v, want none", parts)
	}
}
