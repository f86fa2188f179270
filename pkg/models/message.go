package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType discriminates the payload carried by a HAP message.
type MessageType string

const (
	MessageTypeText           MessageType = "honu.text"
	MessageTypeQuickResponses MessageType = "honu.quickresponses"
	MessageTypeArtefacts      MessageType = "honu.artefacts"
	MessageTypeActions        MessageType = "honu.actions"
)

// ErrUnknownMessageType is returned when a payload carries a msgtype this
// package does not model.
var ErrUnknownMessageType = errors.New("unknown message type")

// Payload is the closed set of message bodies the chat server accepts.
// Only types in this package implement it.
type Payload interface {
	MessageType() MessageType
	// Text returns the human readable body shared by every kind.
	Text() string
	isPayload()
}

// TextMessage is a plain text message.
type TextMessage struct {
	Body string `json:"body"`
}

// QuickResponse is a suggested reply rendered as a button.
type QuickResponse struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// QuickResponsesMessage is text with suggested replies.
type QuickResponsesMessage struct {
	Body      string          `json:"body"`
	Responses []QuickResponse `json:"responses"`
}

// ArtefactsMessage is text with opaque structured artefacts to render.
type ArtefactsMessage struct {
	Body      string           `json:"body"`
	Artefacts []map[string]any `json:"artefacts"`
}

// ActionsMessage is text with opaque action descriptors.
type ActionsMessage struct {
	Body    string           `json:"body"`
	Actions []map[string]any `json:"actions"`
}

func (TextMessage) MessageType() MessageType           { return MessageTypeText }
func (QuickResponsesMessage) MessageType() MessageType { return MessageTypeQuickResponses }
func (ArtefactsMessage) MessageType() MessageType      { return MessageTypeArtefacts }
func (ActionsMessage) MessageType() MessageType        { return MessageTypeActions }

func (m TextMessage) Text() string           { return m.Body }
func (m QuickResponsesMessage) Text() string { return m.Body }
func (m ArtefactsMessage) Text() string      { return m.Body }
func (m ActionsMessage) Text() string        { return m.Body }

func (TextMessage) isPayload()           {}
func (QuickResponsesMessage) isPayload() {}
func (ArtefactsMessage) isPayload()      {}
func (ActionsMessage) isPayload()        {}

// NewText builds a plain text payload.
func NewText(body string) TextMessage {
	return TextMessage{Body: body}
}

// NewQuickResponses builds a quick-responses payload. Responses without a
// label are labelled with their text.
func NewQuickResponses(body string, responses ...QuickResponse) QuickResponsesMessage {
	out := make([]QuickResponse, len(responses))
	for i, r := range responses {
		if r.Label == "" {
			r.Label = r.Text
		}
		out[i] = r
	}
	return QuickResponsesMessage{Body: body, Responses: out}
}

// MarshalPayload encodes p with its msgtype tag.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	switch v := p.(type) {
	case TextMessage:
		return json.Marshal(struct {
			MsgType MessageType `json:"msgtype"`
			TextMessage
		}{v.MessageType(), v})
	case QuickResponsesMessage:
		v = NewQuickResponses(v.Body, v.Responses...)
		if v.Responses == nil {
			v.Responses = []QuickResponse{}
		}
		return json.Marshal(struct {
			MsgType MessageType `json:"msgtype"`
			QuickResponsesMessage
		}{v.MessageType(), v})
	case ArtefactsMessage:
		if v.Artefacts == nil {
			v.Artefacts = []map[string]any{}
		}
		return json.Marshal(struct {
			MsgType MessageType `json:"msgtype"`
			ArtefactsMessage
		}{v.MessageType(), v})
	case ActionsMessage:
		if v.Actions == nil {
			v.Actions = []map[string]any{}
		}
		return json.Marshal(struct {
			MsgType MessageType `json:"msgtype"`
			ActionsMessage
		}{v.MessageType(), v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, p)
	}
}

// UnmarshalPayload decodes a tagged payload. The kind is taken from msgtype
// only; a missing or unknown tag is an error.
func UnmarshalPayload(data []byte) (Payload, error) {
	var tag struct {
		MsgType MessageType `json:"msgtype"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode payload tag: %w", err)
	}
	switch tag.MsgType {
	case MessageTypeText:
		var m TextMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.MsgType, err)
		}
		return m, nil
	case MessageTypeQuickResponses:
		var m QuickResponsesMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.MsgType, err)
		}
		return NewQuickResponses(m.Body, m.Responses...), nil
	case MessageTypeArtefacts:
		var m ArtefactsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.MsgType, err)
		}
		return m, nil
	case MessageTypeActions:
		var m ActionsMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.MsgType, err)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("%w: missing msgtype", ErrUnknownMessageType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, tag.MsgType)
	}
}

// Message is a single HAP message within a conversation.
type Message struct {
	MessageID string    `json:"message_id"`
	AuthorID  string    `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"-"`
	ReadBy    []string  `json:"read_by"`
}

type messageWire struct {
	MessageID string          `json:"message_id"`
	AuthorID  string          `json:"author_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	ReadBy    []string        `json:"read_by"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	payload, err := MarshalPayload(m.Payload)
	if err != nil {
		return nil, err
	}
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return json.Marshal(messageWire{
		MessageID: m.MessageID,
		AuthorID:  m.AuthorID,
		Timestamp: m.Timestamp.UTC(),
		Payload:   payload,
		ReadBy:    readBy,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Payload) == 0 {
		return fmt.Errorf("message %q: missing payload", wire.MessageID)
	}
	payload, err := UnmarshalPayload(wire.Payload)
	if err != nil {
		return fmt.Errorf("message %q: %w", wire.MessageID, err)
	}
	*m = Message{
		MessageID: wire.MessageID,
		AuthorID:  wire.AuthorID,
		Timestamp: wire.Timestamp,
		Payload:   payload,
		ReadBy:    wire.ReadBy,
	}
	return nil
}

// Body returns the payload text, or "" when the message has no payload.
func (m Message) Body() string {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Text()
}
