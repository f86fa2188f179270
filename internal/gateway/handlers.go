package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/haasonsaas/hapra/internal/chat"
	"github.com/haasonsaas/hapra/internal/engagement"
	"github.com/haasonsaas/hapra/internal/mcp"
	"github.com/haasonsaas/hapra/internal/runtime"
	"github.com/haasonsaas/hapra/internal/signature"
	"github.com/haasonsaas/hapra/pkg/models"
)

type statusResponse struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
	Tags        []string        `json:"tags"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var n models.MessageNotification
	if !s.decode(w, r, &n) {
		return
	}
	if err := s.service.HandleMessage(r.Context(), n); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chi.URLParam(r, "value"))
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Card(chi.URLParam(r, "app_name")))
}

func (s *Server) handleInitEngagement(w http.ResponseWriter, r *http.Request) {
	var req models.InitEngagement
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.service.InitEngagement(r.Context(), chi.URLParam(r, "agent_id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{Status: "ok", ConversationID: conv.ConversationID})
}

func (s *Server) handleDisengage(w http.ResponseWriter, r *http.Request) {
	var req models.DisengageAgent
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.Disengage(r.Context(), chi.URLParam(r, "agent_id"), req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	var p models.SchedulerPayload
	if !s.decode(w, r, &p) {
		return
	}
	if err := s.service.HandleScheduler(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	var tags []string
	for _, tag := range strings.Split(r.URL.Query().Get("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	tools, err := s.service.ListTools(r.Context(), tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]toolDescriptor, 0, len(tools))
	for _, tool := range tools {
		tagList := tool.Tags()
		if tagList == nil {
			tagList = []string{}
		}
		out = append(out, toolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
			Tags:        tagList,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var inv engagement.ToolInvocation
	if !s.decode(w, r, &inv) {
		return
	}
	result, err := s.service.InvokeTool(r.Context(), chi.URLParam(r, "name"), inv)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request too large", Code: "too_large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error(), Code: "invalid_json"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	level := s.logger.Warn
	if status >= http.StatusInternalServerError {
		level = s.logger.Error
	}
	level("request failed",
		"path", r.URL.Path,
		"status", status,
		"code", code,
		"request_id", requestID(r),
		"error", err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// classify maps service errors to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, signature.ErrMalformedSignature):
		return http.StatusBadRequest, "malformed_signature"
	case errors.Is(err, engagement.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, mcp.ErrInvalidArguments):
		return http.StatusBadRequest, "invalid_arguments"
	case errors.Is(err, runtime.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, engagement.ErrConversationNotFound):
		return http.StatusNotFound, "conversation_not_found"
	case errors.Is(err, mcp.ErrToolNotFound):
		return http.StatusNotFound, "tool_not_found"
	case errors.Is(err, chat.ErrInvalidToken):
		return http.StatusBadRequest, "invalid_token"
	case errors.Is(err, chat.ErrEndpointUnreachable):
		return http.StatusBadGateway, "chat_unreachable"
	case errors.Is(err, chat.ErrConversationCreationFailed):
		return http.StatusBadGateway, "conversation_creation_failed"
	case errors.Is(err, runtime.ErrStreamBroken):
		return http.StatusInternalServerError, "stream_broken"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if err := enc.Encode(payload); err != nil {
		// Best-effort: the client may have disconnected.
		return
	}
}
