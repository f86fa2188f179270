package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/hapra/internal/observability"
)

// DefaultModelHeader carries the caller's model reference to the gateway.
const DefaultModelHeader = "X-HONU-MODEL"

// Result notes.
const (
	NoteUnstructured = "result was not structured JSON; returned as text"
	NoteToolError    = "tool reported an error"
)

var (
	// ErrToolNotFound is returned when no discovered tool has the name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments is returned when arguments fail the tool's input
	// schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolSetConfig configures the tool gateway adapter.
type ToolSetConfig struct {
	URL     string
	Headers map[string]string

	// Tags restricts the tools exposed by name-based invocation.
	Tags []string

	// ModelHeader names the header carrying the model reference.
	ModelHeader string

	DiscoveryTimeout time.Duration
	InvokeTimeout    time.Duration
}

// Identity is the caller a tool runs on behalf of.
type Identity struct {
	Token    string
	ModelRef string
}

// Result is the normalized outcome of a tool call.
type Result struct {
	Message   string          `json:"message"`
	Artefacts json.RawMessage `json:"artefacts,omitempty"`
	Text      string          `json:"text,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// ToolSet discovers gateway tools and invokes them on behalf of callers.
type ToolSet struct {
	config  ToolSetConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu    sync.RWMutex
	tools []*Tool
}

// NewToolSet creates a toolset for the gateway at cfg.URL.
func NewToolSet(cfg ToolSetConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *ToolSet {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ModelHeader == "" {
		cfg.ModelHeader = DefaultModelHeader
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 600 * time.Second
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 60 * time.Second
	}
	return &ToolSet{
		config:  cfg,
		logger:  logger.With("component", "toolset"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// ListTools discovers the gateway's tools over an unauthenticated session
// and returns those matching filterTags. The full list is cached for
// Invoke.
func (s *ToolSet) ListTools(ctx context.Context, filterTags []string) ([]*Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.DiscoveryTimeout)
	defer cancel()

	client := NewClient(&ServerConfig{
		URL:     s.config.URL,
		Headers: s.config.Headers,
		Timeout: s.config.DiscoveryTimeout,
	}, s.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	defer s.closeClient(ctx, client)

	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}

	tools := make([]*Tool, 0, len(descriptors))
	for _, d := range descriptors {
		if d == nil || d.Name == "" {
			continue
		}
		tools = append(tools, &Tool{desc: d, set: s})
	}

	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()

	filtered := FilterTools(tools, filterTags)
	s.logger.Info("discovered tools", "total", len(tools), "matched", len(filtered), "tags", filterTags)
	return filtered, nil
}

// Lookup returns the cached tool with name, discovering tools first when
// nothing is cached. Tools outside the configured tags are not found.
func (s *ToolSet) Lookup(ctx context.Context, name string) (*Tool, error) {
	s.mu.RLock()
	tools := s.tools
	s.mu.RUnlock()

	if tools == nil {
		if _, err := s.ListTools(ctx, nil); err != nil {
			return nil, err
		}
		s.mu.RLock()
		tools = s.tools
		s.mu.RUnlock()
	}

	for _, tool := range FilterTools(tools, s.config.Tags) {
		if tool.Name() == name {
			return tool, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Invoke calls the named tool.
func (s *ToolSet) Invoke(ctx context.Context, name string, args map[string]any, id Identity) (*Result, error) {
	tool, err := s.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	return tool.Invoke(ctx, args, id)
}

func (s *ToolSet) closeClient(ctx context.Context, client *Client) {
	if err := client.Close(context.WithoutCancel(ctx)); err != nil {
		s.logger.Debug("failed to close MCP session", "error", err)
	}
}

// FilterTools keeps tools whose tags intersect filterTags. An empty filter
// keeps everything; a tool without tags never matches a non-empty filter.
func FilterTools(tools []*Tool, filterTags []string) []*Tool {
	if len(filterTags) == 0 {
		return slices.Clone(tools)
	}
	out := make([]*Tool, 0, len(tools))
	for _, tool := range tools {
		if slices.ContainsFunc(tool.Tags(), func(tag string) bool {
			return slices.Contains(filterTags, tag)
		}) {
			out = append(out, tool)
		}
	}
	return out
}

// Tool is one discovered gateway tool.
type Tool struct {
	desc *MCPTool
	set  *ToolSet

	schemaOnce sync.Once
	schema     *jsonschema.Schema
}

// NewTool wraps a descriptor for invocation through set.
func NewTool(set *ToolSet, desc *MCPTool) *Tool {
	return &Tool{desc: desc, set: set}
}

// Name returns the tool name.
func (t *Tool) Name() string { return t.desc.Name }

// Description returns the tool description.
func (t *Tool) Description() string { return t.desc.Description }

// Tags returns the tool's server-side tags.
func (t *Tool) Tags() []string { return t.desc.Tags() }

// InputSchema returns the tool's JSON schema, defaulting to an open object.
func (t *Tool) InputSchema() json.RawMessage {
	if len(t.desc.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.desc.InputSchema
}

// Validate checks args against the tool's input schema. A schema that does
// not compile is logged and skipped.
func (t *Tool) Validate(args map[string]any) error {
	t.schemaOnce.Do(func() {
		if len(t.desc.InputSchema) == 0 {
			return
		}
		compiled, err := jsonschema.CompileString("mcp_tool_"+t.desc.Name, string(t.desc.InputSchema))
		if err != nil {
			t.set.logger.Warn("tool schema does not compile", "tool", t.desc.Name, "error", err)
			return
		}
		t.schema = compiled
	})
	if t.schema == nil {
		return nil
	}

	// Round-trip through JSON so numbers reach the validator as it expects.
	var doc any = map[string]any{}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	if err := t.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// Invoke validates args and calls the tool over a session authenticated
// as id. Remote tool errors are returned as a Result with message "error";
// only transport failures are errors.
func (t *Tool) Invoke(ctx context.Context, args map[string]any, id Identity) (*Result, error) {
	s := t.set
	start := time.Now()

	if err := t.Validate(args); err != nil {
		s.metrics.ToolInvocation(t.Name(), "invalid", time.Since(start).Seconds())
		return nil, err
	}

	ctx, span := s.tracer.TraceToolInvocation(ctx, t.Name(), id.ModelRef)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.config.InvokeTimeout)
	defer cancel()

	headers := maps.Clone(s.config.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Authorization"] = "Bearer " + id.Token
	headers[s.config.ModelHeader] = id.ModelRef

	client := NewClient(&ServerConfig{
		URL:     s.config.URL,
		Headers: headers,
		Timeout: s.config.InvokeTimeout,
	}, s.logger)

	result, err := t.call(ctx, client, args)
	if err != nil {
		observability.RecordError(span, err)
		s.metrics.ToolInvocation(t.Name(), "error", time.Since(start).Seconds())
		s.logger.Error("tool invocation failed", "tool", t.Name(), "model_ref", id.ModelRef, "error", err)
		return nil, err
	}

	normalized := Normalize(result)
	s.metrics.ToolInvocation(t.Name(), normalized.Message, time.Since(start).Seconds())
	s.logger.Info("invoked tool", "tool", t.Name(), "model_ref", id.ModelRef, "outcome", normalized.Message)
	return normalized, nil
}

func (t *Tool) call(ctx context.Context, client *Client, args map[string]any) (*ToolCallResult, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer t.set.closeClient(ctx, client)

	result, err := client.CallTool(ctx, t.Name(), args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", t.Name(), err)
	}
	return result, nil
}

// Normalize converts a tool result into the bridge's result shape. Only the
// first content item is read: text that parses as JSON becomes artefacts,
// anything else is returned as text.
func Normalize(r *ToolCallResult) *Result {
	text, _ := r.PrimaryText()
	if r != nil && r.IsError {
		return &Result{Message: "error", Text: text, Note: NoteToolError}
	}

	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return &Result{Message: "success", Artefacts: json.RawMessage(trimmed)}
	}
	return &Result{Message: "success", Text: text, Note: NoteUnstructured}
}
