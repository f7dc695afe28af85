package hubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

type serverView struct {
	Status    mcpmgr.Status `json:"status"`
	Active    bool          `json:"active"`
	Command   string        `json:"command"`
	Tools     int           `json:"tools"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
	Since     time.Time     `json:"since"`
}

func serverViews(statuses []mcpmgr.ServerStatus) map[string]serverView {
	out := make(map[string]serverView, len(statuses))
	for _, st := range statuses {
		out[st.Name] = serverView{
			Status:    st.Status,
			Active:    st.Status == mcpmgr.StatusReady,
			Command:   st.Command,
			Tools:     st.Tools,
			Restarts:  st.Restarts,
			LastError: st.LastError,
			Since:     st.Since,
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.hub.Statuses()
	ready := 0
	for _, st := range statuses {
		if st.Status == mcpmgr.StatusReady {
			ready++
		}
	}
	status := "ok"
	if ready < len(statuses) {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"servers": len(statuses),
		"ready":   ready,
		"tools":   s.hub.Catalogue().Len(),
	})
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": serverViews(s.hub.Statuses())})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.hub.Catalogue().Tools()})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Message   string        `json:"message,omitempty"`
	Messages  []chatMessage `json:"messages,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
}

// text returns Message, or the last user entry of Messages.
func (r chatRequest) text() string {
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	SessionID string              `json:"session_id"`
	Choices   []chatChoice        `json:"choices"`
	ToolUsed  *string             `json:"tool_used"`
	Results   []mcpmgr.ToolResult `json:"results,omitempty"`
	State     conversation.State  `json:"state"`
	Steps     int                 `json:"steps"`
	Degraded  bool                `json:"degraded,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.opts.MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode chat request: %w", err))
		return
	}
	text := req.text()
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	provider, model := req.Provider, req.Model
	if provider == "" {
		provider = s.opts.DefaultProvider
	}
	if model == "" {
		model = s.opts.DefaultModel
	}
	m, key, err := s.models.Model(strings.ToLower(provider), model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session := s.sessions.Open(req.SessionID, key, m)
	reply, err := session.HandleUserMessage(r.Context(), text)
	status := http.StatusOK
	resp := chatResponse{
		SessionID: reply.SessionID,
		Choices:   []chatChoice{{Message: chatMessage{Role: "assistant", Content: reply.Text}}},
		Results:   reply.Results,
		State:     reply.State,
		Steps:     reply.Steps,
		Degraded:  reply.Degraded,
	}
	if used := reply.ToolUsed(); used != "" {
		resp.ToolUsed = &used
	}
	if err != nil {
		resp.Error = err.Error()
		if errors.Is(err, conversation.ErrModel) {
			status = http.StatusBadGateway
		}
		s.logger.Warn("chat turn degraded", slog.String("session", reply.SessionID), slog.Any("error", err))
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session %q", id))
		return
	}
	s.sessions.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadConfig(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r, s.opts.MaxUploadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	descs, err := registry.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()
	if err := s.saveConfig(data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("save servers config: %w", err))
		return
	}
	// The new pool outlives this request.
	statuses := s.hub.Load(context.WithoutCancel(r.Context()), descs)
	writeJSON(w, http.StatusOK, map[string]any{"servers": serverViews(statuses)})
}

// readUpload accepts a multipart form with a "file" part or a raw YAML body.
func readUpload(r *http.Request, limit int64) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, fmt.Errorf("parse upload: %w", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, limit))
	}
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
