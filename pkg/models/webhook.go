package models

// MessageNotification is delivered by the chat server when a user posts to a
// conversation an agent takes part in.
type MessageNotification struct {
	AgentSignature string       `json:"agent_signature"`
	Conversation   Conversation `json:"conversation"`
	Message        Message      `json:"message"`
}

// InitEngagement asks an agent to start a conversation for a model.
type InitEngagement struct {
	ModelRef       string `json:"mdl_ref"`
	AuthToken      string `json:"auth_token"`
	AgentSignature string `json:"agent_signature"`
}

// DisengageAgent asks an agent to tear down its conversations for a model.
type DisengageAgent struct {
	ModelRef       string `json:"mdl_ref"`
	AgentSignature string `json:"agent_signature"`
}

// SchedulerPayload is delivered by the task scheduler on each heartbeat.
type SchedulerPayload struct {
	AppName   string `json:"app_name"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// AgentCard is the display metadata the chat UI renders for an agent.
type AgentCard struct {
	Name        string  `json:"name" yaml:"name"`
	AvatarURL   *string `json:"avatar_url" yaml:"avatar_url"`
	Description string  `json:"description" yaml:"description"`
}

// DefaultAgentDescription is used for apps without a registered card.
const DefaultAgentDescription = "An Agent built to help you!"

// DefaultAgentCard returns the card served for an unregistered app.
func DefaultAgentCard(appName string) AgentCard {
	return AgentCard{Name: appName, Description: DefaultAgentDescription}
}
