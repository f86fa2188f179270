package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakeADK struct {
	mu       sync.Mutex
	sessions map[string]State
	runs     []RunRequest
	sse      string
	runBody  string
	runCode  int
}

func newFakeADK() *fakeADK {
	return &fakeADK{sessions: map[string]State{}, runCode: http.StatusOK}
}

func (f *fakeADK) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/apps/{app}/users/{user}/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodPost:
			var state State
			_ = json.NewDecoder(r.Body).Decode(&state)
			f.sessions[id] = state
			_ = json.NewEncoder(w).Encode(Session{ID: id, AppName: r.PathValue("app"), UserID: r.PathValue("user"), State: state})
		case http.MethodGet:
			state, ok := f.sessions[id]
			if !ok {
				http.Error(w, `{"detail":"Session not found"}`, http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(Session{ID: id, State: state})
		case http.MethodDelete:
			delete(f.sessions, id)
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("GET /apps/{app}/users/{user}/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := []Session{}
		for id, state := range f.sessions {
			out = append(out, Session{ID: id, State: state})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /run_sse", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if f.runCode != http.StatusOK {
			w.WriteHeader(f.runCode)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, f.sse)
	})
	mux.HandleFunc("POST /run", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.runBody)
	})
	return mux
}

func (f *fakeADK) record(r *http.Request) {
	var req RunRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
}

func newTestClient(t *testing.T, fake *fakeADK) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/"}, nil, nil)
}

func TestClient_SessionLifecycle(t *testing.T) {
	t.Parallel()

	fake := newFakeADK()
	client := newTestClient(t, fake)
	ctx := context.Background()

	if err := client.CreateSession(ctx, "helper", "c1", NewState("tok-1", "org|d|m")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := client.CreateSession(ctx, "helper", "c2", NewState("tok-2", "org|d|other")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	state, err := client.GetSessionState(ctx, "helper", "c1")
	if err != nil {
		t.Fatalf("GetSessionState() error = %v", err)
	}
	if state.Token() != "tok-1" || state.ModelRef() != "org|d|m" {
		t.Fatalf("state = %v", state)
	}

	refs, err := client.ListSessionsForModel(ctx, "helper", "org|d|m")
	if err != nil {
		t.Fatalf("ListSessionsForModel() error = %v", err)
	}
	if len(refs) != 1 || refs[0] != (SessionRef{Token: "tok-1", SessionID: "c1"}) {
		t.Fatalf("refs = %+v", refs)
	}

	if err := client.DeleteSession(ctx, "helper", "c1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := client.GetSessionState(ctx, "helper", "c1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetSessionState() error = %v, want ErrSessionNotFound", err)
	}
}

func TestClient_NullSessionIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "null")
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil, nil)
	if _, err := client.GetSessionState(context.Background(), "helper", "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestClient_RunTurnStreaming(t *testing.T) {
	t.Parallel()

	fake := newFakeADK()
	fake.sse = "data: {\"id\":\"e1\"}\n\ndata: {\"id\":\"e2\"}\n\n"
	client := newTestClient(t, fake)

	req := NewRunRequest("helper", "c1", "hi there")
	req.SSE = true
	stream, err := client.RunTurn(context.Background(), req)
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	defer stream.Close()

	frames, err := drain(t, stream)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(fake.runs))
	}
	got := fake.runs[0]
	if got.UserID != "user" || got.SessionID != "c1" || got.Streaming {
		t.Errorf("run request = %+v", got)
	}
	if got.NewMessage == nil || got.NewMessage.Role != "user" || got.NewMessage.Parts[0].Text != "hi there" {
		t.Errorf("new_message = %+v", got.NewMessage)
	}
}

func TestClient_RunTurnBlocking(t *testing.T) {
	t.Parallel()

	fake := newFakeADK()
	fake.runBody = `[{"id":"e1"},{"id":"e2"},{"id":"e3"}]`
	client := newTestClient(t, fake)

	stream, err := client.RunTurn(context.Background(), NewRunRequest("helper", "c1", "hi"))
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	frames, err := drain(t, stream)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	for i, f := range frames {
		if want := fmt.Sprintf(`{"id":"e%d"}`, i+1); f.Data != want {
			t.Errorf("frames[%d].Data = %s, want %s", i, f.Data, want)
		}
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
}

func TestClient_RunTurnBadStatus(t *testing.T) {
	t.Parallel()

	fake := newFakeADK()
	fake.runCode = http.StatusInternalServerError
	client := newTestClient(t, fake)

	req := NewRunRequest("helper", "c1", "hi")
	req.SSE = true
	if _, err := client.RunTurn(context.Background(), req); !errors.Is(err, ErrStreamBroken) {
		t.Fatalf("err = %v, want ErrStreamBroken", err)
	}
}

func TestClient_RunTurnUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: base}, nil, nil)
	req := NewRunRequest("helper", "c1", "hi")
	req.SSE = true
	if _, err := client.RunTurn(context.Background(), req); !errors.Is(err, ErrStreamBroken) {
		t.Fatalf("err = %v, want ErrStreamBroken", err)
	}
}
