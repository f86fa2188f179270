// Package runtime is a client for the local ADK agent web server: sessions
// and agent turns, blocking or streamed as server-sent events.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/hapra/internal/observability"
)

// ErrSessionNotFound is returned when the runtime has no such session.
var ErrSessionNotFound = errors.New("agent session not found")

// Config configures the runtime client.
type Config struct {
	// BaseURL of the ADK web server.
	BaseURL string

	// UserID owns every session the bridge creates. Defaults to "user".
	UserID string

	// Timeout bounds session calls and the wait for a turn's response
	// headers. Defaults to 60s.
	Timeout time.Duration

	// TurnTimeout bounds a whole turn. Defaults to 10m.
	TurnTimeout time.Duration
}

// State is the key-value state the runtime keeps per session.
type State map[string]any

// NewState builds the state stored at engagement.
func NewState(token, modelRef string) State {
	return State{"token": token, "model_ref": modelRef}
}

// Token returns the bearer token stored in the session.
func (s State) Token() string {
	v, _ := s["token"].(string)
	return v
}

// ModelRef returns the model reference stored in the session.
func (s State) ModelRef() string {
	v, _ := s["model_ref"].(string)
	return v
}

// SessionRef identifies a session matched by model reference.
type SessionRef struct {
	Token     string
	SessionID string
}

// Session is the runtime's view of a session.
type Session struct {
	ID      string `json:"id"`
	AppName string `json:"appName"`
	UserID  string `json:"userId"`
	State   State  `json:"state"`
}

// RunRequest starts an agent turn.
type RunRequest struct {
	AppName    string         `json:"app_name"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	NewMessage *genai.Content `json:"new_message"`
	Streaming  bool           `json:"streaming"`

	// SSE selects /run_sse over /run. Streaming is the runtime's token
	// streaming flag and is independent of the transport.
	SSE bool `json:"-"`
}

// NewRunRequest builds a request carrying text as the user's message.
func NewRunRequest(appName, sessionID, text string) RunRequest {
	return RunRequest{
		AppName:   appName,
		SessionID: sessionID,
		NewMessage: &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		},
	}
}

// Client talks to the ADK web server.
type Client struct {
	config  Config
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient creates a runtime client.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		cfg.UserID = "user"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 10 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		stream: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		logger:  logger.With("component", "agent_runtime"),
		metrics: metrics,
	}
}

func (c *Client) sessionsPath(app string) string {
	return "/apps/" + url.PathEscape(app) + "/users/" + url.PathEscape(c.config.UserID) + "/sessions"
}

func (c *Client) sessionPath(app, sessionID string) string {
	return c.sessionsPath(app) + "/" + url.PathEscape(sessionID)
}

// CreateSession creates sessionID for app with state.
func (c *Client) CreateSession(ctx context.Context, app, sessionID string, state State) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	code, data, err := c.do(ctx, http.MethodPost, c.sessionPath(app, sessionID), body)
	if err != nil {
		c.metrics.RuntimeRequest("create_session", "error")
		return err
	}
	if code != http.StatusOK {
		c.metrics.RuntimeRequest("create_session", "failed")
		return fmt.Errorf("create session %s: status %d: %s", sessionID, code, data)
	}
	c.metrics.RuntimeRequest("create_session", "ok")
	c.logger.Info("created session", "app_name", app, "session_id", sessionID)
	return nil
}

// DeleteSession deletes sessionID.
func (c *Client) DeleteSession(ctx context.Context, app, sessionID string) error {
	code, data, err := c.do(ctx, http.MethodDelete, c.sessionPath(app, sessionID), nil)
	if err != nil {
		c.metrics.RuntimeRequest("delete_session", "error")
		return err
	}
	if code < 200 || code >= 300 {
		c.metrics.RuntimeRequest("delete_session", "failed")
		return fmt.Errorf("delete session %s: status %d: %s", sessionID, code, data)
	}
	c.metrics.RuntimeRequest("delete_session", "ok")
	c.logger.Info("deleted session", "app_name", app, "session_id", sessionID)
	return nil
}

// GetSessionState returns the state of sessionID.
func (c *Client) GetSessionState(ctx context.Context, app, sessionID string) (State, error) {
	code, data, err := c.do(ctx, http.MethodGet, c.sessionPath(app, sessionID), nil)
	if err != nil {
		c.metrics.RuntimeRequest("get_session", "error")
		return nil, err
	}
	switch {
	case code == http.StatusNotFound:
		c.metrics.RuntimeRequest("get_session", "failed")
		return nil, fmt.Errorf("%w: %s/%s", ErrSessionNotFound, app, sessionID)
	case code != http.StatusOK:
		c.metrics.RuntimeRequest("get_session", "failed")
		return nil, fmt.Errorf("get session %s: status %d: %s", sessionID, code, data)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		c.metrics.RuntimeRequest("get_session", "failed")
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// ADK answers null for sessions it does not know.
	if session.ID == "" && session.State == nil {
		c.metrics.RuntimeRequest("get_session", "failed")
		return nil, fmt.Errorf("%w: %s/%s", ErrSessionNotFound, app, sessionID)
	}
	c.metrics.RuntimeRequest("get_session", "ok")
	if session.State == nil {
		session.State = State{}
	}
	return session.State, nil
}

// ListSessionsForModel returns the sessions of app whose state carries
// modelRef.
func (c *Client) ListSessionsForModel(ctx context.Context, app, modelRef string) ([]SessionRef, error) {
	code, data, err := c.do(ctx, http.MethodGet, c.sessionsPath(app), nil)
	if err != nil {
		c.metrics.RuntimeRequest("list_sessions", "error")
		return nil, err
	}
	if code != http.StatusOK {
		c.metrics.RuntimeRequest("list_sessions", "failed")
		return nil, fmt.Errorf("list sessions: status %d: %s", code, data)
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		c.metrics.RuntimeRequest("list_sessions", "failed")
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	c.metrics.RuntimeRequest("list_sessions", "ok")

	refs := make([]SessionRef, 0, len(sessions))
	for _, s := range sessions {
		if s.State.ModelRef() != modelRef {
			continue
		}
		refs = append(refs, SessionRef{Token: s.State.Token(), SessionID: s.ID})
	}
	return refs, nil
}

// RunTurn starts a turn. With req.SSE the frames arrive from
// /run_sse as the runtime produces them; otherwise /run is called and its
// events are replayed. The returned stream must be closed.
func (c *Client) RunTurn(ctx context.Context, req RunRequest) (Stream, error) {
	if req.UserID == "" {
		req.UserID = c.config.UserID
	}
	if req.SSE {
		return c.runSSE(ctx, req)
	}
	return c.run(ctx, req)
}

// TurnTimeout is the configured bound for a whole turn.
func (c *Client) TurnTimeout() time.Duration {
	return c.config.TurnTimeout
}

func (c *Client) run(ctx context.Context, req RunRequest) (Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}
	code, data, err := c.doWith(ctx, c.stream, http.MethodPost, "/run", body, "application/json")
	if err != nil {
		c.metrics.RuntimeRequest("run", "error")
		return nil, fmt.Errorf("%w: %v", ErrStreamBroken, err)
	}
	if code != http.StatusOK {
		c.metrics.RuntimeRequest("run", "failed")
		return nil, fmt.Errorf("%w: run status %d: %s", ErrStreamBroken, code, data)
	}

	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		c.metrics.RuntimeRequest("run", "failed")
		return nil, fmt.Errorf("%w: decode events: %v", ErrStreamBroken, err)
	}
	frames := make([]Frame, len(events))
	for i, raw := range events {
		frames[i] = Frame{Event: "message", Data: string(raw)}
	}
	c.metrics.RuntimeRequest("run", "ok")
	return newSliceStream(frames), nil
}

func (c *Client) runSSE(ctx context.Context, req RunRequest) (Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/run_sse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		c.metrics.RuntimeRequest("run_sse", "error")
		return nil, fmt.Errorf("%w: %v", ErrStreamBroken, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.metrics.RuntimeRequest("run_sse", "failed")
		return nil, fmt.Errorf("%w: run_sse status %d: %s", ErrStreamBroken, resp.StatusCode, data)
	}
	c.metrics.RuntimeRequest("run_sse", "ok")
	return NewSSEReader(resp.Body), nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	return c.doWith(ctx, c.http, method, path, body, "application/json")
}

func (c *Client) doWith(ctx context.Context, client *http.Client, method, path string, body []byte, accept string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
