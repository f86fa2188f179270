package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sessionHeader   = "Mcp-Session-Id"
	maxMessageBytes = 8 << 20
)

// ErrSessionExpired is returned when the server no longer knows the
// session this transport was assigned.
var ErrSessionExpired = errors.New("mcp session expired")

// HTTPTransport implements the MCP streamable HTTP transport. Every message
// is a POST to the server URL; responses arrive as a JSON body or as a
// server-sent event stream.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTransport{
		config: cfg,
		logger: logger.With("mcp_url", cfg.URL, "transport", "http"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SessionID returns the session assigned by the server.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Call sends a request and waits for a response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp *JSONRPCResponse
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		rpcResp, err = t.readEventStream(resp.Body, req.ID.(string))
	default:
		rpcResp, err = decodeResponse(io.LimitReader(resp.Body, maxMessageBytes))
	}
	if err != nil {
		return nil, err
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify sends a notification (no response expected).
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	notif := JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	resp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify %s: HTTP %d", method, resp.StatusCode)
	}
	return nil
}

// Close ends the server session. Servers that do not support explicit
// termination answer 405, which is not an error.
func (t *HTTPTransport) Close(ctx context.Context) error {
	sessionID := t.SessionID()
	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.config.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()

	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
		return fmt.Errorf("close session: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	t.setHeaders(httpReq)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && httpReq.Header.Get(sessionHeader) != "" {
		resp.Body.Close()
		return nil, ErrSessionExpired
	}
	if id := resp.Header.Get(sessionHeader); id != "" {
		t.mu.Lock()
		t.sessionID = id
		t.mu.Unlock()
	}
	return resp, nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if id := t.SessionID(); id != "" {
		req.Header.Set(sessionHeader, id)
	}
}

// readEventStream reads SSE frames until the response to id arrives.
// Server notifications and requests on the stream are logged and skipped.
func (t *HTTPTransport) readEventStream(body io.Reader, id string) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)

	var data []string
	dispatch := func() (*JSONRPCResponse, bool) {
		if len(data) == 0 {
			return nil, false
		}
		payload := strings.Join(data, "\n")
		data = data[:0]

		var envelope struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			t.logger.Debug("skipping undecodable event", "error", err)
			return nil, false
		}
		if envelope.Method != "" {
			t.logger.Debug("skipping server message", "method", envelope.Method)
			return nil, false
		}
		if fmt.Sprint(envelope.ID) != id {
			return nil, false
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if resp, ok := dispatch(); ok {
				return resp, nil
			}
			continue
		}
		// Parse SSE data lines
		if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if resp, ok := dispatch(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream ended without a response to %s", id)
}

func decodeResponse(r io.Reader) (*JSONRPCResponse, error) {
	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(r).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &rpcResp, nil
}
