// Package relay drives one agent turn: it streams runtime events back into a
// chat conversation and keeps the agent's chat status in step.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/haasonsaas/hapra/internal/chat"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/internal/runtime"
	"github.com/haasonsaas/hapra/pkg/models"
)

// ApologyText is sent when an event cannot be read.
const ApologyText = "An error occurred handling your latest message. Please try again."

// ChatClient is the subset of the chat client the relay uses.
type ChatClient interface {
	SendMessage(ctx context.Context, token string, conv *models.Conversation, payload models.Payload) (*chat.Response, error)
	SetStatus(ctx context.Context, token string, conv *models.Conversation, status *string) error
}

// TurnRunner starts agent turns.
type TurnRunner interface {
	RunTurn(ctx context.Context, req runtime.RunRequest) (runtime.Stream, error)
}

// Turn is one user message to relay.
type Turn struct {
	Token        string
	Conversation *models.Conversation
	AppName      string
	SessionID    string
	Text         string
}

// Config configures a Relay.
type Config struct {
	// SSE selects /run_sse over /run. Token streaming is never requested:
	// each chat message carries a whole event.
	SSE bool

	// TurnTimeout bounds a whole turn. Zero means no bound beyond ctx.
	TurnTimeout time.Duration
}

// Relay translates agent turns into chat traffic. It keeps no state between
// turns and is safe for concurrent use.
type Relay struct {
	chat    ChatClient
	runner  TurnRunner
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Relay) { r.tracer = t }
}

// New creates a Relay.
func New(chatClient ChatClient, runner TurnRunner, cfg Config, opts ...Option) *Relay {
	r := &Relay{
		chat:   chatClient,
		runner: runner,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay")
	return r
}

// Run relays one turn. Status is set to thinking before the runtime is
// asked for the turn and cleared on every return after that. Only a chat
// endpoint that cannot be resolved or a broken runtime stream is returned; every
// other delivery failure is logged and the turn continues.
func (r *Relay) Run(ctx context.Context, turn Turn) (err error) {
	start := time.Now()
	ctx, span := r.tracer.TraceTurn(ctx, turn.AppName, turn.SessionID)
	defer span.End()

	logger := r.logger.With(
		"app_name", turn.AppName,
		"model_ref", turn.Conversation.ModelRef,
		"conversation_id", turn.Conversation.ConversationID,
	)
	if id := observability.GetRequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}

	thinking := chat.StatusThinking
	if err := r.chat.SetStatus(ctx, turn.Token, turn.Conversation, &thinking); err != nil {
		if chat.IsFatal(err) {
			observability.RecordError(span, err)
			r.metrics.RelayTurn("unreachable", time.Since(start).Seconds())
			return err
		}
		logger.Warn("failed to set thinking status", "error", err)
	}

	defer func() {
		clearCtx := context.WithoutCancel(ctx)
		if cerr := r.chat.SetStatus(clearCtx, turn.Token, turn.Conversation, nil); cerr != nil {
			logger.Warn("failed to clear status", "error", cerr)
		}
		outcome := "ok"
		if err != nil {
			outcome = "broken"
			observability.RecordError(span, err)
		}
		r.metrics.RelayTurn(outcome, time.Since(start).Seconds())
	}()

	if r.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.TurnTimeout)
		defer cancel()
	}

	req := runtime.NewRunRequest(turn.AppName, turn.SessionID, turn.Text)
	req.SSE = r.config.SSE
	stream, err := r.runner.RunTurn(ctx, req)
	if err != nil {
		logger.Error("failed to start turn", "error", err)
		return err
	}
	defer stream.Close()

	h := &turnHandler{ctx: ctx, relay: r, turn: turn, logger: logger}
	for {
		frame, err := stream.Next()
		if err == io.EOF {
			logger.Info("turn complete", "events", h.events)
			return nil
		}
		if err != nil {
			logger.Error("turn stream broken", "events", h.events, "error", err)
			if !errors.Is(err, runtime.ErrStreamBroken) {
				err = errors.Join(runtime.ErrStreamBroken, err)
			}
			return err
		}
		if !frame.IsMessage() {
			continue
		}
		for _, ev := range DecodeFrame(frame) {
			h.events++
			r.metrics.RelayEvent(ev.Kind())
			ev.Accept(h)
		}
	}
}

// turnHandler applies events to the chat conversation of one turn.
type turnHandler struct {
	ctx    context.Context
	relay  *Relay
	turn   Turn
	logger *slog.Logger
	events int
}

func (h *turnHandler) OnText(e TextEvent) {
	h.send(models.NewText(e.Text))
}

func (h *turnHandler) OnToolCall(e ToolCallEvent) {
	h.logger.Info("tool call", "tool", e.Name)
	h.setStatus(chat.RunningTool(e.Name))
}

func (h *turnHandler) OnToolResponse(e ToolResponseEvent) {
	h.logger.Debug("tool response", "tool", e.Name)
	h.setStatus(chat.StatusThinking)
}

func (h *turnHandler) OnMalformed(e MalformedEvent) {
	h.logger.Error("malformed turn event", "raw", e.Raw, "error", e.Err)
	h.relay.metrics.RelayEvent("apology")
	h.send(models.NewText(ApologyText))
}

func (h *turnHandler) OnUnrecognized(e UnrecognizedEvent) {
	h.logger.Debug("unhandled turn event", "raw", e.Raw)
}

func (h *turnHandler) send(payload models.Payload) {
	if _, err := h.relay.chat.SendMessage(h.ctx, h.turn.Token, h.turn.Conversation, payload); err != nil {
		h.logger.Error("failed to relay message", "error", err)
	}
}

func (h *turnHandler) setStatus(status string) {
	if err := h.relay.chat.SetStatus(h.ctx, h.turn.Token, h.turn.Conversation, &status); err != nil {
		h.logger.Warn("failed to set status", "status", status, "error", err)
	}
}
