package models

import "time"

// Participant is a user or agent taking part in a conversation.
type Participant struct {
	ParticipantID string  `json:"participant_id"`
	ChatStatus    *string `json:"chat_status"`
}

// ConversationMetadata describes a conversation.
type ConversationMetadata struct {
	Name      string        `json:"name"`
	CreatedBy string        `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	Users     []Participant `json:"users"`
	Agents    []Participant `json:"agents"`
}

// Conversation is a chat-server owned thread. It is identified by
// (ModelRef, ConversationID).
type Conversation struct {
	ModelRef       string               `json:"mdl_ref"`
	ConversationID string               `json:"conversation_id"`
	Metadata       ConversationMetadata `json:"metadata"`
	Messages       []Message            `json:"messages"`
}
