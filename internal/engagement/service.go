// Package engagement implements the agent-router flows: engaging an agent
// with a user, relaying inbound chat messages and scheduler heartbeats,
// disengaging, and tool invocation on behalf of a session.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/hapra/internal/mcp"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/internal/relay"
	"github.com/haasonsaas/hapra/internal/runtime"
	"github.com/haasonsaas/hapra/internal/scheduler"
	"github.com/haasonsaas/hapra/internal/signature"
	"github.com/haasonsaas/hapra/pkg/models"
)

// IntroText prompts a freshly engaged agent to greet the user.
const IntroText = "You have just been engaged by a User. Please introduce yourself to them."

// SchedulerPath is the callback path heartbeat tasks are delivered to.
const SchedulerPath = "/hapra/v1/scheduler"

var (
	// ErrConversationNotFound is returned when a session has no matching
	// conversation on the chat server.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidRequest is returned for webhook bodies missing required
	// fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// ChatClient is the subset of the chat client the service uses.
type ChatClient interface {
	CreateConversation(ctx context.Context, token, modelRef, name string) (*models.Conversation, error)
	ListConversations(ctx context.Context, token, modelRef string, withMessages int) ([]models.Conversation, error)
	DeleteConversation(ctx context.Context, token, modelRef, conversationID string) error
}

// SessionStore is the subset of the runtime client the service uses.
type SessionStore interface {
	CreateSession(ctx context.Context, app, sessionID string, state runtime.State) error
	DeleteSession(ctx context.Context, app, sessionID string) error
	GetSessionState(ctx context.Context, app, sessionID string) (runtime.State, error)
	ListSessionsForModel(ctx context.Context, app, modelRef string) ([]runtime.SessionRef, error)
}

// TurnRelay runs one agent turn into a conversation.
type TurnRelay interface {
	Run(ctx context.Context, turn relay.Turn) error
}

// TaskScheduler is the subset of the scheduler client the service uses.
type TaskScheduler interface {
	CreateTask(ctx context.Context, spec scheduler.TaskSpec) (*scheduler.Task, error)
	DeleteAllTasks(ctx context.Context) (scheduler.DeleteSummary, error)
}

// SchedulerFactory builds a scheduler client for one token and model ref.
type SchedulerFactory func(token, modelRef string) (TaskScheduler, error)

// Toolset discovers and invokes gateway tools.
type Toolset interface {
	ListTools(ctx context.Context, filterTags []string) ([]*mcp.Tool, error)
	Invoke(ctx context.Context, name string, args map[string]any, id mcp.Identity) (*mcp.Result, error)
}

// HeartbeatConfig configures the recurring task registered at engagement.
type HeartbeatConfig struct {
	Enabled     bool
	Name        string
	Description string
	Cron        string
	Message     string
}

// Config configures the service.
type Config struct {
	// PublicURL is where the scheduler reaches this process.
	PublicURL string

	Heartbeat HeartbeatConfig
	Cards     map[string]models.AgentCard
}

// Deps are the collaborators of a Service.
type Deps struct {
	Chat       ChatClient
	Sessions   SessionStore
	Relay      TurnRelay
	Schedulers SchedulerFactory
	Tools      Toolset
	Logger     *slog.Logger
}

// Service composes the chat, runtime, scheduler and tool clients.
type Service struct {
	config     Config
	chat       ChatClient
	sessions   SessionStore
	relay      TurnRelay
	schedulers SchedulerFactory
	tools      Toolset
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &Service{
		config:     cfg,
		chat:       deps.Chat,
		sessions:   deps.Sessions,
		relay:      deps.Relay,
		schedulers: deps.Schedulers,
		tools:      deps.Tools,
		logger:     logger.With("component", "engagement"),
	}
}

// HandleMessage relays an inbound user message to the agent named by the
// notification's signature.
func (s *Service) HandleMessage(ctx context.Context, n models.MessageNotification) error {
	sig, err := signature.Decode(n.AgentSignature)
	if err != nil {
		return err
	}
	if n.Conversation.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidRequest)
	}

	ctx = observability.AddConversationID(ctx, n.Conversation.ConversationID)
	state, err := s.sessionState(ctx, sig.AppName, n.Conversation.ConversationID)
	if err != nil {
		return err
	}

	conv := n.Conversation
	return s.relay.Run(ctx, relay.Turn{
		Token:        state.Token(),
		Conversation: &conv,
		AppName:      sig.AppName,
		SessionID:    conv.ConversationID,
		Text:         n.Message.Body(),
	})
}

// InitEngagement creates a conversation and a runtime session for agentID,
// prompts the agent to introduce itself, and registers the heartbeat.
// Nothing is created after a failed conversation creation. A failed
// introduction turn is returned after the heartbeat is registered.
func (s *Service) InitEngagement(ctx context.Context, agentID string, req models.InitEngagement) (*models.Conversation, error) {
	sig, err := signature.Decode(req.AgentSignature)
	if err != nil {
		return nil, err
	}
	if req.ModelRef == "" || req.AuthToken == "" {
		return nil, fmt.Errorf("%w: mdl_ref and auth_token are required", ErrInvalidRequest)
	}
	ctx = observability.AddModelRef(ctx, req.ModelRef)

	conv, err := s.chat.CreateConversation(ctx, req.AuthToken, req.ModelRef, sig.AppName)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("agent_id", agentID, "model_ref", req.ModelRef, "conversation_id", conv.ConversationID)

	if err := s.sessions.CreateSession(ctx, agentID, conv.ConversationID, runtime.NewState(req.AuthToken, req.ModelRef)); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logger.Info("engaged agent")

	introErr := s.relay.Run(ctx, relay.Turn{
		Token:        req.AuthToken,
		Conversation: conv,
		AppName:      sig.AppName,
		SessionID:    conv.ConversationID,
		Text:         IntroText,
	})
	if introErr != nil {
		logger.Error("introduction turn failed", "error", introErr)
	}

	s.registerHeartbeat(ctx, logger, req.AuthToken, req.ModelRef, sig.AppName, conv.ConversationID)
	return conv, introErr
}

func (s *Service) registerHeartbeat(ctx context.Context, logger *slog.Logger, token, modelRef, appName, sessionID string) {
	hb := s.config.Heartbeat
	if !hb.Enabled || s.schedulers == nil {
		return
	}

	sched, err := s.schedulers(token, modelRef)
	if err != nil {
		logger.Error("failed to create scheduler client", "error", err)
		return
	}
	task, err := sched.CreateTask(ctx, scheduler.TaskSpec{
		Name:           hb.Name,
		Description:    hb.Description,
		CronExpression: hb.Cron,
		CallbackURL:    s.config.PublicURL + SchedulerPath,
		Payload: models.SchedulerPayload{
			AppName:   appName,
			SessionID: sessionID,
			Message:   hb.Message,
		},
	})
	if err != nil {
		logger.Error("failed to register heartbeat", "error", err)
		return
	}
	logger.Info("registered heartbeat", "task_id", task.ID, "cron", hb.Cron)
}

// Disengage tears down every session agentID holds for the model ref. Task
// and conversation cleanup is best-effort; session deletion failures are
// collected and returned after every session has been attempted.
func (s *Service) Disengage(ctx context.Context, agentID string, req models.DisengageAgent) error {
	if req.ModelRef == "" {
		return fmt.Errorf("%w: mdl_ref is required", ErrInvalidRequest)
	}
	refs, err := s.sessions.ListSessionsForModel(ctx, agentID, req.ModelRef)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	var errs []error
	for _, ref := range refs {
		logger := s.logger.With("agent_id", agentID, "model_ref", req.ModelRef, "conversation_id", ref.SessionID)

		if s.schedulers != nil {
			if sched, err := s.schedulers(ref.Token, req.ModelRef); err != nil {
				logger.Warn("could not create scheduler client", "error", err)
			} else if summary, err := sched.DeleteAllTasks(ctx); err != nil {
				logger.Warn("could not delete tasks", "error", err)
			} else {
				logger.Info("deleted tasks", "listed", summary.Listed, "deleted", summary.Deleted, "failed", summary.Failed)
			}
		}

		if err := s.chat.DeleteConversation(ctx, ref.Token, req.ModelRef, ref.SessionID); err != nil {
			logger.Warn("could not delete conversation", "error", err)
		}

		if err := s.sessions.DeleteSession(ctx, agentID, ref.SessionID); err != nil {
			logger.Error("could not delete session", "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", ref.SessionID, err))
			continue
		}
		logger.Info("disengaged session")
	}
	return errors.Join(errs...)
}

// HandleScheduler relays a heartbeat message into the conversation backing
// the payload's session.
func (s *Service) HandleScheduler(ctx context.Context, p models.SchedulerPayload) error {
	if p.AppName == "" || p.SessionID == "" {
		return fmt.Errorf("%w: app_name and session_id are required", ErrInvalidRequest)
	}
	state, err := s.sessionState(ctx, p.AppName, p.SessionID)
	if err != nil {
		return err
	}

	convs, err := s.chat.ListConversations(ctx, state.Token(), state.ModelRef(), 0)
	if err != nil {
		return err
	}
	idx := -1
	for i := range convs {
		if convs[i].ConversationID == p.SessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s for model %s", ErrConversationNotFound, p.SessionID, state.ModelRef())
	}
	conv := convs[idx]

	return s.HandleMessage(ctx, models.MessageNotification{
		AgentSignature: conv.Metadata.CreatedBy,
		Conversation:   conv,
		Message:        models.Message{Payload: models.NewText(p.Message)},
	})
}

// Card returns the display card for appName.
func (s *Service) Card(appName string) models.AgentCard {
	if card, ok := s.config.Cards[appName]; ok {
		if card.Name == "" {
			card.Name = appName
		}
		if card.Description == "" {
			card.Description = models.DefaultAgentDescription
		}
		return card
	}
	return models.DefaultAgentCard(appName)
}

// ListTools returns gateway tools matching tags.
func (s *Service) ListTools(ctx context.Context, tags []string) ([]*mcp.Tool, error) {
	if s.tools == nil {
		return nil, nil
	}
	return s.tools.ListTools(ctx, tags)
}

// ToolInvocation asks for a tool call on behalf of a session.
type ToolInvocation struct {
	AppName   string         `json:"app_name"`
	SessionID string         `json:"session_id"`
	Arguments map[string]any `json:"arguments"`
}

// InvokeTool calls the named tool with the identity stored in the session.
func (s *Service) InvokeTool(ctx context.Context, name string, inv ToolInvocation) (*mcp.Result, error) {
	if s.tools == nil {
		return nil, fmt.Errorf("%w: %s", mcp.ErrToolNotFound, name)
	}
	if inv.AppName == "" || inv.SessionID == "" {
		return nil, fmt.Errorf("%w: app_name and session_id are required", ErrInvalidRequest)
	}
	state, err := s.sessionState(ctx, inv.AppName, inv.SessionID)
	if err != nil {
		return nil, err
	}
	return s.tools.Invoke(ctx, name, inv.Arguments, mcp.Identity{Token: state.Token(), ModelRef: state.ModelRef()})
}

// sessionState reads the session's state. A session without a token is
// treated as missing.
func (s *Service) sessionState(ctx context.Context, app, sessionID string) (runtime.State, error) {
	state, err := s.sessions.GetSessionState(ctx, app, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Token() == "" {
		return nil, fmt.Errorf("%w: %s/%s has no token", runtime.ErrSessionNotFound, app, sessionID)
	}
	return state, nil
}
