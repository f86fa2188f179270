package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ChatRequest("send_message", "ok")
	m.RelayEvent("text")
	m.RelayTurn("ok", 1.5)
	m.ToolInvocation("search", "success", 0.2)
	m.HTTPRequest("POST", "/hapra/v1/messages", "200", 0.3)
	m.RuntimeRequest("create_session", "ok")
	m.SchedulerRequest("create_task", "ok")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"hapra_chat_requests_total",
		"hapra_relay_events_total",
		"hapra_relay_turns_total",
		"hapra_relay_turn_duration_seconds",
		"hapra_tool_invocations_total",
		"hapra_tool_invocation_duration_seconds",
		"hapra_http_requests_total",
		"hapra_http_request_duration_seconds",
		"hapra_runtime_requests_total",
		"hapra_scheduler_requests_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestMetrics_ChatRequestValues(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ChatRequest("set_status", "ok")
	m.ChatRequest("set_status", "ok")
	m.ChatRequest("send_message", "failed")

	if count := testutil.CollectAndCount(m.ChatRequestCounter); count != 2 {
		t.Errorf("label combinations = %d, want 2", count)
	}

	expected := `
		# HELP hapra_chat_requests_total Total number of chat server requests by operation and outcome
		# TYPE hapra_chat_requests_total counter
		hapra_chat_requests_total{op="send_message",outcome="failed"} 1
		hapra_chat_requests_total{op="set_status",outcome="ok"} 2
	`
	if err := testutil.CollectAndCompare(m.ChatRequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestMetrics_RelayEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RelayEvent("text")
	m.RelayEvent("malformed")
	m.RelayEvent("text")

	if got := testutil.ToFloat64(m.RelayEventCounter.WithLabelValues("text")); got != 2 {
		t.Errorf("text events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RelayEventCounter.WithLabelValues("malformed")); got != 1 {
		t.Errorf("malformed events = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ChatRequest("x", "ok")
	m.RelayEvent("text")
	m.RelayTurn("ok", 1)
	m.ToolInvocation("t", "success", 1)
	m.HTTPRequest("GET", "/", "200", 1)
	m.RuntimeRequest("x", "ok")
	m.SchedulerRequest("x", "ok")
}
