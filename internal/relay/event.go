package relay

import (
	"github.com/haasonsaas/hapra/internal/runtime"
)

// Event is one unit of agent output within a turn. The set of variants is
// closed; EventHandler has one method per variant.
type Event interface {
	Accept(h EventHandler)
	Kind() string
}

// EventHandler reacts to each Event variant.
type EventHandler interface {
	OnText(TextEvent)
	OnToolCall(ToolCallEvent)
	OnToolResponse(ToolResponseEvent)
	OnMalformed(MalformedEvent)
	OnUnrecognized(UnrecognizedEvent)
}

// TextEvent is agent text destined for the user.
type TextEvent struct {
	Text string
}

// ToolCallEvent is emitted when the agent starts a tool.
type ToolCallEvent struct {
	Name string
	Args map[string]any
}

// ToolResponseEvent is emitted when a tool result returns to the agent.
type ToolResponseEvent struct {
	Name string
}

// MalformedEvent is a frame that could not be read as an agent event.
type MalformedEvent struct {
	Raw string
	Err error
}

// UnrecognizedEvent is a well-formed event with nothing to relay.
type UnrecognizedEvent struct {
	Raw string
}

func (e TextEvent) Accept(h EventHandler)         { h.OnText(e) }
func (e ToolCallEvent) Accept(h EventHandler)     { h.OnToolCall(e) }
func (e ToolResponseEvent) Accept(h EventHandler) { h.OnToolResponse(e) }
func (e MalformedEvent) Accept(h EventHandler)    { h.OnMalformed(e) }
func (e UnrecognizedEvent) Accept(h EventHandler) { h.OnUnrecognized(e) }

func (TextEvent) Kind() string         { return "text" }
func (ToolCallEvent) Kind() string     { return "tool_call" }
func (ToolResponseEvent) Kind() string { return "tool_response" }
func (MalformedEvent) Kind() string    { return "malformed" }
func (UnrecognizedEvent) Kind() string { return "unrecognized" }

// DecodeFrame turns one runtime frame into events, one per content part in
// part order. A frame that does not parse, or that reports a runtime error,
// yields a single MalformedEvent. Partial frames are unrecognized; their
// content arrives again in the aggregated event that follows them.
func DecodeFrame(frame runtime.Frame) []Event {
	ev, err := runtime.ParseEvent([]byte(frame.Data))
	if err != nil {
		return []Event{MalformedEvent{Raw: frame.Data, Err: err}}
	}

	parts := ev.Parts()
	if ev.Partial || len(parts) == 0 {
		return []Event{UnrecognizedEvent{Raw: frame.Data}}
	}

	events := make([]Event, 0, len(parts))
	for _, part := range parts {
		switch {
		case part.FunctionCall != nil:
			events = append(events, ToolCallEvent{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args})
		case part.Text != "":
			events = append(events, TextEvent{Text: part.Text})
		case part.FunctionResponse != nil:
			events = append(events, ToolResponseEvent{Name: part.FunctionResponse.Name})
		default:
			events = append(events, UnrecognizedEvent{Raw: frame.Data})
		}
	}
	return events
}
