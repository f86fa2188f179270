package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeGateway is a minimal streamable-HTTP MCP server.
type fakeGateway struct {
	mu       sync.Mutex
	tools    []*MCPTool
	pageSize int
	sse      bool
	results  map[string]ToolCallResult
	methods  []string
	headers  []http.Header
	calls    []CallToolParams
	deletes  int
}

func newFakeGateway(tools ...*MCPTool) *fakeGateway {
	return &fakeGateway{tools: tools, results: map[string]ToolCallResult{}}
}

func (g *fakeGateway) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Method == http.MethodDelete {
		g.deletes++
		w.WriteHeader(http.StatusOK)
		return
	}

	body, _ := io.ReadAll(r.Body)
	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	g.methods = append(g.methods, req.Method)
	g.headers = append(g.headers, r.Header.Clone())

	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var result any
	switch req.Method {
	case "initialize":
		w.Header().Set(sessionHeader, "sess-1")
		result = InitializeResult{ProtocolVersion: ProtocolVersion, ServerInfo: ServerInfo{Name: "fake", Version: "0.1"}}
	case "tools/list":
		var params ListToolsParams
		_ = json.Unmarshal(req.Params, &params)
		result = g.page(params.Cursor)
	case "tools/call":
		var params CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		g.calls = append(g.calls, params)
		res, ok := g.results[params.Name]
		if !ok {
			g.write(w, JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: ErrCodeInvalidParams, Message: "unknown tool"}})
			return
		}
		result = res
	default:
		g.write(w, JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "no such method"}})
		return
	}

	raw, _ := json.Marshal(result)
	g.write(w, JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (g *fakeGateway) page(cursor string) ListToolsResult {
	if g.pageSize == 0 {
		return ListToolsResult{Tools: g.tools}
	}
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := min(start+g.pageSize, len(g.tools))
	res := ListToolsResult{Tools: g.tools[start:end]}
	if end < len(g.tools) {
		res.NextCursor = fmt.Sprint(end)
	}
	return res
}

func (g *fakeGateway) write(w http.ResponseWriter, resp JSONRPCResponse) {
	data, _ := json.Marshal(resp)
	if !g.sse {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	// A server notification precedes the response on the stream.
	fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n")
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
}

func (g *fakeGateway) snapshot() (methods []string, headers []http.Header, calls []CallToolParams) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.methods...), append([]http.Header(nil), g.headers...), append([]CallToolParams(nil), g.calls...)
}

func taggedTool(name string, tags ...string) *MCPTool {
	tool := &MCPTool{Name: name, Description: name + " tool", InputSchema: json.RawMessage(`{"type":"object"}`)}
	if tags != nil {
		tool.Meta = &ToolMeta{FastMCP: &FastMCPMeta{Tags: tags}}
	}
	return tool
}
