package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrRuntimeEvent is returned by ParseEvent for frames in which the runtime
// reports a failure instead of content.
var ErrRuntimeEvent = errors.New("agent runtime reported an error")

// Event is the subset of an ADK event the bridge reads.
type Event struct {
	ID           string         `json:"id,omitempty"`
	InvocationID string         `json:"invocationId,omitempty"`
	Author       string         `json:"author,omitempty"`
	Content      *genai.Content `json:"content,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	TurnComplete bool           `json:"turnComplete,omitempty"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`

	// Error is set on the frame run_sse emits when the runner raises.
	Error string `json:"error,omitempty"`
}

// ParseEvent decodes an event frame. Frames that are not JSON objects, and
// frames carrying a runtime error, return an error.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch {
	case ev.Error != "":
		return nil, fmt.Errorf("%w: %s", ErrRuntimeEvent, ev.Error)
	case ev.ErrorCode != "" || ev.ErrorMessage != "":
		return nil, fmt.Errorf("%w: %s %s", ErrRuntimeEvent, ev.ErrorCode, ev.ErrorMessage)
	}
	return &ev, nil
}

// Parts returns the event's content parts, skipping nil entries.
func (e *Event) Parts() []*genai.Part {
	if e == nil || e.Content == nil {
		return nil
	}
	parts := make([]*genai.Part, 0, len(e.Content.Parts))
	for _, p := range e.Content.Parts {
		if p != nil {
			parts = append(parts, p)
		}
	}
	return parts
}
