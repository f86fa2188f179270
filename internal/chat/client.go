// Package chat is a client for the HAP chat server: conversations, messages
// and the per-agent chat status shown in the UI.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/pkg/models"
)

const maxResponseBytes = 1 << 20

// Status values set by the relay.
const (
	StatusThinking    = "thinking"
	StatusRunningTool = "running tool: "
)

// Config configures the chat client.
type Config struct {
	// Timeout bounds each request. Defaults to 60s.
	Timeout time.Duration

	// RateLimit caps outbound requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter burst size. Defaults to 1 when RateLimit is set.
	Burst int
}

// Response is the raw chat server reply to a send.
type Response struct {
	StatusCode int
	Body       []byte
}

// Created reports whether the server answered 201.
func (r *Response) Created() bool {
	return r != nil && r.StatusCode == http.StatusCreated
}

// Client talks to the chat server resolved from each caller's token.
type Client struct {
	resolver *EndpointResolver
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient creates a chat client. The resolver is shared by every caller
// in the process.
func NewClient(cfg Config, resolver *EndpointResolver, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		resolver: resolver,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		logger:   logger.With("component", "chat_client"),
		metrics:  metrics,
	}
}

// Resolver returns the endpoint resolver backing c.
func (c *Client) Resolver() *EndpointResolver {
	return c.resolver
}

// SendMessage posts payload to conv. Any reply other than 201 is logged and
// returned to the caller without an error, as are transport failures
// against a resolved endpoint. Errors are returned only when no endpoint
// can be resolved or the request cannot be built.
func (c *Client) SendMessage(ctx context.Context, token string, conv *models.Conversation, payload models.Payload) (*Response, error) {
	body, err := models.MarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	resp, err := c.do(ctx, token, http.MethodPost, conversationPath(conv.ModelRef, conv.ConversationID)+"/messages/", nil, body)
	if err != nil {
		if IsFatal(err) {
			c.metrics.ChatRequest("send_message", "error")
			return nil, err
		}
		c.metrics.ChatRequest("send_message", "failed")
		c.logger.Error("failed to send message",
			"op", "send_message",
			"model_ref", conv.ModelRef,
			"conversation_id", conv.ConversationID,
			"msgtype", payload.MessageType(),
			"error", err)
		return nil, nil
	}

	if !resp.Created() {
		c.metrics.ChatRequest("send_message", "failed")
		c.logger.Error("failed to send message",
			"op", "send_message",
			"status", resp.StatusCode,
			"body", string(resp.Body),
			"model_ref", conv.ModelRef,
			"conversation_id", conv.ConversationID,
			"msgtype", payload.MessageType())
		return resp, nil
	}

	c.metrics.ChatRequest("send_message", "ok")
	c.logger.Info("sent message",
		"model_ref", conv.ModelRef,
		"conversation_id", conv.ConversationID,
		"msgtype", payload.MessageType())
	return resp, nil
}

// CreateConversation creates a conversation for modelRef. Anything but a
// 201 is ErrConversationCreationFailed.
func (c *Client) CreateConversation(ctx context.Context, token, modelRef, name string) (*models.Conversation, error) {
	body, _ := json.Marshal(map[string]string{"name": name})

	resp, err := c.do(ctx, token, http.MethodPost, "/v1/conversations/"+url.PathEscape(modelRef), nil, body)
	if err != nil {
		c.metrics.ChatRequest("create_conversation", "error")
		return nil, NewError(ErrCodeCreateFailed, "could not create conversation", err).
			WithContext("model_ref", modelRef)
	}
	if resp.StatusCode != http.StatusCreated {
		c.metrics.ChatRequest("create_conversation", "failed")
		c.logger.Error("failed to create conversation",
			"op", "create_conversation",
			"status", resp.StatusCode,
			"body", string(resp.Body),
			"model_ref", modelRef)
		return nil, NewError(ErrCodeCreateFailed, "could not create conversation",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(resp.Body))).
			WithContext("model_ref", modelRef)
	}

	var conv models.Conversation
	if err := json.Unmarshal(resp.Body, &conv); err != nil {
		c.metrics.ChatRequest("create_conversation", "failed")
		return nil, NewError(ErrCodeCreateFailed, "could not decode created conversation", err).
			WithContext("model_ref", modelRef)
	}

	c.metrics.ChatRequest("create_conversation", "ok")
	c.logger.Info("created conversation", "model_ref", modelRef, "conversation_id", conv.ConversationID)
	return &conv, nil
}

// ListConversations lists conversations for modelRef. A failed listing
// degrades to an empty list, so an empty result may mean either.
func (c *Client) ListConversations(ctx context.Context, token, modelRef string, withMessages int) ([]models.Conversation, error) {
	query := url.Values{}
	query.Set("with_messages", strconv.Itoa(withMessages))

	resp, err := c.do(ctx, token, http.MethodGet, "/v1/conversations/"+url.PathEscape(modelRef), query, nil)
	if err != nil {
		if IsFatal(err) {
			c.metrics.ChatRequest("list_conversations", "error")
			return nil, err
		}
		c.metrics.ChatRequest("list_conversations", "failed")
		c.logger.Error("failed to list conversations", "op", "list_conversations", "model_ref", modelRef, "error", err)
		return []models.Conversation{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.metrics.ChatRequest("list_conversations", "failed")
		c.logger.Error("failed to list conversations",
			"op", "list_conversations",
			"status", resp.StatusCode,
			"body", string(resp.Body),
			"model_ref", modelRef)
		return []models.Conversation{}, nil
	}

	var convs []models.Conversation
	if err := json.Unmarshal(resp.Body, &convs); err != nil {
		c.metrics.ChatRequest("list_conversations", "failed")
		c.logger.Error("failed to decode conversations", "op", "list_conversations", "model_ref", modelRef, "error", err)
		return []models.Conversation{}, nil
	}
	c.metrics.ChatRequest("list_conversations", "ok")
	return convs, nil
}

// DeleteConversation deletes a conversation. Failures other than an
// unreachable chat server are logged and swallowed.
func (c *Client) DeleteConversation(ctx context.Context, token, modelRef, conversationID string) error {
	resp, err := c.do(ctx, token, http.MethodDelete, conversationPath(modelRef, conversationID), nil, nil)
	if err != nil {
		if IsFatal(err) {
			c.metrics.ChatRequest("delete_conversation", "error")
			return err
		}
		c.metrics.ChatRequest("delete_conversation", "failed")
		c.logger.Error("failed to delete conversation",
			"op", "delete_conversation", "model_ref", modelRef, "conversation_id", conversationID, "error", err)
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		c.metrics.ChatRequest("delete_conversation", "failed")
		c.logger.Error("failed to delete conversation",
			"op", "delete_conversation",
			"status", resp.StatusCode,
			"body", string(resp.Body),
			"model_ref", modelRef,
			"conversation_id", conversationID)
		return nil
	}
	c.metrics.ChatRequest("delete_conversation", "ok")
	c.logger.Info("deleted conversation", "model_ref", modelRef, "conversation_id", conversationID)
	return nil
}

// SetStatus sets the agent's chat status on conv. A nil status clears it.
// Failures other than an unreachable chat server are logged and swallowed.
func (c *Client) SetStatus(ctx context.Context, token string, conv *models.Conversation, status *string) error {
	body, _ := json.Marshal(map[string]*string{"status": status})

	resp, err := c.do(ctx, token, http.MethodPatch, conversationPath(conv.ModelRef, conv.ConversationID), nil, body)
	if err != nil {
		if IsFatal(err) {
			c.metrics.ChatRequest("set_status", "error")
			return err
		}
		c.metrics.ChatRequest("set_status", "failed")
		c.logger.Warn("failed to set status",
			"op", "set_status", "model_ref", conv.ModelRef, "conversation_id", conv.ConversationID, "error", err)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.ChatRequest("set_status", "failed")
		c.logger.Warn("failed to set status",
			"op", "set_status",
			"status", resp.StatusCode,
			"body", string(resp.Body),
			"model_ref", conv.ModelRef,
			"conversation_id", conv.ConversationID)
		return nil
	}
	c.metrics.ChatRequest("set_status", "ok")
	c.logger.Debug("set status", "conversation_id", conv.ConversationID, "chat_status", statusString(status))
	return nil
}

// Ping resolves the chat endpoint for token and checks that it answers.
func (c *Client) Ping(ctx context.Context, token string) error {
	base, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if !c.resolver.probe(ctx, base) {
		return NewError(ErrCodeUnreachable, "chat endpoint did not answer", nil).WithContext("url", base)
	}
	return nil
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body []byte) (*Response, error) {
	base, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewError(ErrCodeTransport, "rate limiter", err)
	}

	endpoint := base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewError(ErrCodeTransport, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError(ErrCodeTransport, "read response", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func conversationPath(modelRef, conversationID string) string {
	return "/v1/conversations/" + url.PathEscape(modelRef) + "/" + url.PathEscape(conversationID)
}

// RunningTool returns the status shown while tool runs.
func RunningTool(tool string) string {
	return StatusRunningTool + tool
}

func statusString(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
