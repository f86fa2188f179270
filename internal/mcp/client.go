package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// maxToolPages bounds tools/list pagination against servers that never
// stop returning a cursor.
const maxToolPages = 100

// Client is an MCP client session against one server.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	// Server info
	serverInfo ServerInfo
}

// NewClient creates a new MCP client over streamable HTTP.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewHTTPTransport(cfg, logger),
		logger:    logger.With("component", "mcp"),
	}
}

// NewClientWithTransport creates a client over an existing transport.
func NewClientWithTransport(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: cfg, transport: transport, logger: logger.With("component", "mcp")}
}

// Connect performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: ClientInfo{
			Name:    "hapra",
			Version: "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.serverInfo = initResult.ServerInfo
	c.logger.Debug("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion,
		"session_id", c.transport.SessionID())

	// Send initialized notification
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}
	return nil
}

// Close ends the session.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Close(ctx)
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]*MCPTool, error) {
	var (
		tools  []*MCPTool
		cursor string
	)
	for page := 0; page < maxToolPages; page++ {
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}
		result, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}

		var resp ListToolsResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return nil, fmt.Errorf("parse tools/list result: %w", err)
		}
		tools = append(tools, resp.Tools...)

		if resp.NextCursor == "" {
			c.logger.Debug("listed tools", "count", len(tools), "pages", page+1)
			return tools, nil
		}
		cursor = resp.NextCursor
	}
	return nil, fmt.Errorf("tools/list: more than %d pages", maxToolPages)
}

// CallTool calls a tool on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	params := CallToolParams{
		Name: name,
	}

	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}

	return &callResult, nil
}
