package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/hapra/internal/observability"
)

func TestFilterTools(t *testing.T) {
	t.Parallel()

	tools := []*Tool{
		{desc: taggedTool("crm", "crm", "read")},
		{desc: taggedTool("billing", "billing")},
		{desc: taggedTool("untagged")},
		{desc: &MCPTool{Name: "empty-meta", Meta: &ToolMeta{}}},
	}

	tests := []struct {
		name   string
		filter []string
		want   []string
	}{
		{"no filter keeps all", nil, []string{"crm", "billing", "untagged", "empty-meta"}},
		{"single tag", []string{"crm"}, []string{"crm"}},
		{"intersection", []string{"read", "billing"}, []string{"crm", "billing"}},
		{"no match", []string{"hr"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterTools(tools, tt.filter)
			names := make([]string, 0, len(got))
			for _, tool := range got {
				names = append(names, tool.Name())
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("FilterTools(%v) = %v, want %v", tt.filter, names, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	textResult := func(text string, isErr bool) *ToolCallResult {
		return &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: text}}, IsError: isErr}
	}

	tests := []struct {
		name      string
		in        *ToolCallResult
		message   string
		artefacts string
		text      string
		note      string
	}{
		{"json object", textResult(`{"rows": 3}`, false), "success", `{"rows": 3}`, "", ""},
		{"json array", textResult(" [1,2] \n", false), "success", `[1,2]`, "", ""},
		{"plain text", textResult("all done", false), "success", "", "all done", NoteUnstructured},
		{"empty", &ToolCallResult{}, "success", "", "", NoteUnstructured},
		{"only first item read", &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "summary"}, {Type: "text", Text: `{"rows": 3}`}}}, "success", "", "summary", NoteUnstructured},
		{"remote error", textResult("boom", true), "error", "", "boom", NoteToolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got.Message != tt.message || string(got.Artefacts) != tt.artefacts || got.Text != tt.text || got.Note != tt.note {
				t.Errorf("Normalize() = %+v", got)
			}
		})
	}
}

func TestToolSet_ListToolsPaginatedAndFiltered(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(taggedTool("a", "x"), taggedTool("b"), taggedTool("c", "y"), taggedTool("d", "x", "y"))
	gw.pageSize = 2
	srv := gw.start(t)

	set := NewToolSet(ToolSetConfig{URL: srv.URL}, nil, nil, nil)
	tools, err := set.ListTools(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 || tools[0].Name() != "a" || tools[1].Name() != "d" {
		t.Fatalf("tools = %v", tools)
	}

	methods, headers, _ := gw.snapshot()
	want := []string{"initialize", "notifications/initialized", "tools/list", "tools/list"}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Errorf("methods = %v, want %v", methods, want)
	}
	for _, h := range headers {
		if h.Get("Authorization") != "" {
			t.Fatalf("discovery must be unauthenticated, got Authorization %q", h.Get("Authorization"))
		}
	}
}

func TestToolSet_Invoke(t *testing.T) {
	t.Parallel()

	lookup := taggedTool("lookup", "crm")
	lookup.InputSchema = json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"},"limit":{"type":"integer"}},"required":["q"]}`)
	gw := newFakeGateway(lookup)
	gw.results["lookup"] = ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: `{"hits":[1]}`}}}
	srv := gw.start(t)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	set := NewToolSet(ToolSetConfig{URL: srv.URL, Tags: []string{"crm"}}, nil, metrics, nil)

	res, err := set.Invoke(context.Background(), "lookup", map[string]any{"q": "acme", "limit": 5}, Identity{Token: "tok-1", ModelRef: "org|d|m"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Message != "success" || string(res.Artefacts) != `{"hits":[1]}` {
		t.Fatalf("result = %+v", res)
	}

	_, headers, calls := gw.snapshot()
	last := headers[len(headers)-1]
	if last.Get("Authorization") != "Bearer tok-1" {
		t.Errorf("Authorization = %q", last.Get("Authorization"))
	}
	if last.Get(DefaultModelHeader) != "org|d|m" {
		t.Errorf("%s = %q", DefaultModelHeader, last.Get(DefaultModelHeader))
	}
	if len(calls) != 1 || calls[0].Name != "lookup" || !strings.Contains(string(calls[0].Arguments), `"acme"`) {
		t.Errorf("calls = %+v", calls)
	}
	if got := testutil.ToFloat64(metrics.ToolInvocationCounter.WithLabelValues("lookup", "success")); got != 1 {
		t.Errorf("tool invocations = %v, want 1", got)
	}
}

func TestToolSet_InvokeInvalidArguments(t *testing.T) {
	t.Parallel()

	lookup := taggedTool("lookup")
	lookup.InputSchema = json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	gw := newFakeGateway(lookup)
	srv := gw.start(t)
	set := NewToolSet(ToolSetConfig{URL: srv.URL}, nil, nil, nil)

	for _, args := range []map[string]any{nil, {"q": 7}} {
		if _, err := set.Invoke(context.Background(), "lookup", args, Identity{Token: "t"}); !errors.Is(err, ErrInvalidArguments) {
			t.Errorf("Invoke(%v) error = %v, want ErrInvalidArguments", args, err)
		}
	}
	if _, _, calls := gw.snapshot(); len(calls) != 0 {
		t.Fatalf("invalid arguments reached the gateway: %+v", calls)
	}
}

func TestToolSet_InvokeNotFound(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(taggedTool("a", "x"), taggedTool("b", "y"))
	srv := gw.start(t)
	set := NewToolSet(ToolSetConfig{URL: srv.URL, Tags: []string{"x"}}, nil, nil, nil)

	if _, err := set.Invoke(context.Background(), "missing", nil, Identity{}); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
	if _, err := set.Invoke(context.Background(), "b", nil, Identity{}); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("tool outside configured tags: err = %v, want ErrToolNotFound", err)
	}
}

func TestToolSet_RemoteErrorIsResult(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway(taggedTool("flaky"))
	gw.sse = true
	gw.results["flaky"] = ToolCallResult{IsError: true, Content: []ToolResultContent{{Type: "text", Text: "upstream down"}}}
	srv := gw.start(t)
	set := NewToolSet(ToolSetConfig{URL: srv.URL}, nil, nil, nil)

	res, err := set.Invoke(context.Background(), "flaky", map[string]any{}, Identity{Token: "t"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Message != "error" || res.Text != "upstream down" || res.Note != NoteToolError {
		t.Fatalf("result = %+v", res)
	}
}

func TestToolSet_DiscoveryFailure(t *testing.T) {
	t.Parallel()

	set := NewToolSet(ToolSetConfig{URL: "http://127.0.0.1:1"}, nil, nil, nil)
	if _, err := set.ListTools(context.Background(), nil); err == nil {
		t.Fatal("expected discovery error")
	}
}
