package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMessageType_Constants(t *testing.T) {
	tests := []struct {
		payload  Payload
		expected string
	}{
		{TextMessage{}, "honu.text"},
		{QuickResponsesMessage{}, "honu.quickresponses"},
		{ArtefactsMessage{}, "honu.artefacts"},
		{ActionsMessage{}, "honu.actions"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if string(tt.payload.MessageType()) != tt.expected {
				t.Errorf("MessageType() = %q, want %q", tt.payload.MessageType(), tt.expected)
			}
		})
	}
}

func TestMarshalPayload_WritesTag(t *testing.T) {
	data, err := MarshalPayload(NewText("hello"))
	if err != nil {
		t.Fatalf("MarshalPayload() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["msgtype"] != "honu.text" || got["body"] != "hello" {
		t.Fatalf("payload = %v", got)
	}
}

func TestUnmarshalPayload_Kinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want MessageType
		body string
	}{
		{"text", `{"msgtype":"honu.text","body":"hi"}`, MessageTypeText, "hi"},
		{"quick responses", `{"msgtype":"honu.quickresponses","body":"pick","responses":[{"text":"yes"}]}`, MessageTypeQuickResponses, "pick"},
		{"artefacts", `{"msgtype":"honu.artefacts","body":"see","artefacts":[{"id":1}]}`, MessageTypeArtefacts, "see"},
		{"actions", `{"msgtype":"honu.actions","body":"do","actions":[{"kind":"open"}]}`, MessageTypeActions, "do"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := UnmarshalPayload([]byte(tt.raw))
			if err != nil {
				t.Fatalf("UnmarshalPayload() error = %v", err)
			}
			if p.MessageType() != tt.want {
				t.Errorf("MessageType() = %q, want %q", p.MessageType(), tt.want)
			}
			if p.Text() != tt.body {
				t.Errorf("Text() = %q, want %q", p.Text(), tt.body)
			}
		})
	}
}

func TestUnmarshalPayload_RejectsUntagged(t *testing.T) {
	tests := []string{
		`{"body":"no tag"}`,
		`{"msgtype":"honu.video","body":"x"}`,
		`{"body":"looks like artefacts","artefacts":[]}`,
	}
	for _, raw := range tests {
		if _, err := UnmarshalPayload([]byte(raw)); !errors.Is(err, ErrUnknownMessageType) {
			t.Errorf("UnmarshalPayload(%s) error = %v, want ErrUnknownMessageType", raw, err)
		}
	}
}

func TestQuickResponses_LabelDefaultsToText(t *testing.T) {
	p, err := UnmarshalPayload([]byte(`{"msgtype":"honu.quickresponses","body":"b","responses":[{"text":"yes"},{"text":"no","label":"Nope"}]}`))
	if err != nil {
		t.Fatalf("UnmarshalPayload() error = %v", err)
	}
	qr := p.(QuickResponsesMessage)
	if qr.Responses[0].Label != "yes" {
		t.Errorf("Responses[0].Label = %q, want %q", qr.Responses[0].Label, "yes")
	}
	if qr.Responses[1].Label != "Nope" {
		t.Errorf("Responses[1].Label = %q, want %q", qr.Responses[1].Label, "Nope")
	}

	data, err := MarshalPayload(QuickResponsesMessage{Body: "b", Responses: []QuickResponse{{Text: "ok"}}})
	if err != nil {
		t.Fatalf("MarshalPayload() error = %v", err)
	}
	if !strings.Contains(string(data), `"label":"ok"`) {
		t.Errorf("marshaled = %s, want label defaulted", data)
	}
}

func TestMessage_JSON(t *testing.T) {
	raw := `{
		"message_id": "m1",
		"author_id": "u1",
		"timestamp": "2025-03-01T10:00:00Z",
		"payload": {"msgtype": "honu.text", "body": "hello"},
		"read_by": ["u1"]
	}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.MessageID != "m1" || msg.AuthorID != "u1" {
		t.Errorf("ids = %q/%q", msg.MessageID, msg.AuthorID)
	}
	if !msg.Timestamp.Equal(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}
	if msg.Body() != "hello" {
		t.Errorf("Body() = %q, want %q", msg.Body(), "hello")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"msgtype":"honu.text"`) {
		t.Errorf("marshaled = %s, want tagged payload", data)
	}
}

func TestMessage_MissingPayload(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"message_id":"m1","author_id":"u1","timestamp":"2025-03-01T10:00:00Z"}`), &msg)
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestConversation_JSON(t *testing.T) {
	raw := `{
		"mdl_ref": "org|d1|m1",
		"conversation_id": "c1",
		"metadata": {
			"name": "chat",
			"created_by": "external_agent/abc",
			"created_at": "2025-03-01T10:00:00Z",
			"users": [{"participant_id": "u1", "chat_status": null}],
			"agents": [{"participant_id": "a1", "chat_status": "thinking"}]
		},
		"messages": [
			{"message_id": "m1", "author_id": "u1", "timestamp": "2025-03-01T10:00:00Z", "payload": {"msgtype": "honu.text", "body": "hi"}}
		]
	}`

	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if conv.ModelRef != "org|d1|m1" || conv.ConversationID != "c1" {
		t.Errorf("identity = %q/%q", conv.ModelRef, conv.ConversationID)
	}
	if conv.Metadata.CreatedBy != "external_agent/abc" {
		t.Errorf("CreatedBy = %q", conv.Metadata.CreatedBy)
	}
	if conv.Metadata.Users[0].ChatStatus != nil {
		t.Errorf("user status = %v, want nil", *conv.Metadata.Users[0].ChatStatus)
	}
	if s := conv.Metadata.Agents[0].ChatStatus; s == nil || *s != "thinking" {
		t.Errorf("agent status = %v, want thinking", s)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Body() != "hi" {
		t.Errorf("Messages = %+v", conv.Messages)
	}
}

func TestDefaultAgentCard(t *testing.T) {
	card := DefaultAgentCard("helper")
	if card.Name != "helper" || card.AvatarURL != nil || card.Description != DefaultAgentDescription {
		t.Fatalf("DefaultAgentCard() = %+v", card)
	}
	data, _ := json.Marshal(card)
	if !strings.Contains(string(data), `"avatar_url":null`) {
		t.Errorf("marshaled = %s, want null avatar", data)
	}
}
