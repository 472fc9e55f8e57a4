package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/khanflow/assistant/internal/conversation"
	"github.com/khanflow/assistant/internal/prefs"
	"github.com/khanflow/assistant/internal/storage"
	"github.com/khanflow/assistant/internal/voice"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxAudioBodySize = 25 << 20  // 25MB, matches common transcription limits

type AppDeps struct {
	Manager  *conversation.Manager
	Store    *storage.Store
	Prefs    *prefs.Manager
	Token    string
	AudioDir string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/conversations", handleCreateConversation(deps))
		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Delete("/conversations/{id}", handleDeleteConversation(deps))
		r.Post("/conversations/{id}/turns", handleTurn(deps))
		r.Get("/preferences", handleGetPreferences(deps))
		r.Patch("/preferences", handlePatchPreferences(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type createConversationRequest struct {
	UserID               string `json:"user_id"`
	UserTimezone         string `json:"user_timezone"`
	PreferredTaskApp     string `json:"preferred_task_app"`
	PreferredCalendarApp string `json:"preferred_calendar_app"`
}

func handleCreateConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		convCtx := conversation.Context{
			UserTimezone:         req.UserTimezone,
			PreferredTaskApp:     req.PreferredTaskApp,
			PreferredCalendarApp: req.PreferredCalendarApp,
		}
		// Fill gaps from stored preferences so callers only send overrides.
		if p, err := deps.Prefs.Get(); err == nil {
			if convCtx.UserTimezone == "" {
				convCtx.UserTimezone = p.Timezone
			}
			if convCtx.PreferredTaskApp == "" {
				convCtx.PreferredTaskApp = p.TaskApp
			}
			if convCtx.PreferredCalendarApp == "" {
				convCtx.PreferredCalendarApp = p.CalendarApp
			}
		}

		c, err := deps.Manager.Create(r.Context(), req.UserID, convCtx)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(conversationView(c))
	}
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)
		userID := r.URL.Query().Get("user_id")

		convs, err := deps.Manager.List(r.Context(), userID, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}

		views := make([]map[string]any, 0, len(convs))
		for _, c := range convs {
			views = append(views, conversationView(c))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		snap, err := deps.Manager.Get(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		view := conversationView(snap.Conversation)
		msgs := make([]map[string]any, 0, len(snap.Messages))
		for _, m := range snap.Messages {
			msgs = append(msgs, messageView(m))
		}
		view["messages"] = msgs

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if r.URL.Query().Get("purge") == "true" {
			err := deps.Store.DeleteConversation(id)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
			return
		}

		err := deps.Manager.Abandon(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if errors.Is(err, conversation.ErrInvalidState) {
			httpError(w, http.StatusConflict, "invalid_state", "conversation already completed")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to abandon conversation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "abandoned"})
	}
}

type turnRequest struct {
	Text     string `json:"text"`
	Audio    string `json:"audio"` // base64-encoded; transcribed asynchronously
	MimeType string `json:"mime_type"`
}

func handleTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxAudioBodySize)
		defer r.Body.Close()

		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		switch {
		case req.Audio != "":
			queueAudioTurn(deps, w, id, req)
		case req.Text != "":
			turn, err := deps.Manager.Advance(r.Context(), id, req.Text)
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			if errors.Is(err, conversation.ErrInvalidState) {
				httpError(w, http.StatusConflict, "invalid_state", "conversation is no longer active")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to process turn: %v", err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(turn)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of text or audio is required")
		}
	}
}

func queueAudioTurn(deps AppDeps, w http.ResponseWriter, id string, req turnRequest) {
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 audio")
		return
	}

	if err := os.MkdirAll(deps.AudioDir, 0o700); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to store audio: %v", err)
		return
	}
	path := filepath.Join(deps.AudioDir, uuid.New().String())
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to store audio: %v", err)
		return
	}

	payload, err := json.Marshal(voice.Payload{
		ConversationID: id,
		AudioPath:      path,
		MimeType:       req.MimeType,
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        voice.JobType,
		PayloadJSON: string(payload),
	}
	if err := deps.Store.EnqueueJob(job); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"conversation_id": id,
		"status":          "queued",
	})
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Prefs.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handlePatchPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]string
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Prefs.SetField(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set field %q: %v", key, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func conversationView(c storage.Conversation) map[string]any {
	v := map[string]any{
		"id":               c.ID,
		"user_id":          c.UserID,
		"status":           c.Status,
		"current_step":     c.CurrentStep,
		"intent_type":      c.IntentType,
		"extracted":        json.RawMessage(jsonOr(c.ExtractedJSON, "{}")),
		"pending_fields":   json.RawMessage(jsonOr(c.PendingJSON, "[]")),
		"awaiting_field":   c.AwaitingField,
		"context":          json.RawMessage(jsonOr(c.ContextJSON, "{}")),
		"created_at":       c.CreatedAt.Format(time.RFC3339),
		"updated_at":       c.UpdatedAt.Format(time.RFC3339),
		"last_activity_at": c.LastActivityAt.Format(time.RFC3339),
		"timeout_at":       c.TimeoutAt.Format(time.RFC3339),
	}
	if c.CompletedAt != nil {
		v["completed_at"] = c.CompletedAt.Format(time.RFC3339)
	}
	return v
}

func messageView(m storage.Message) map[string]any {
	v := map[string]any{
		"id":         m.ID,
		"seq":        m.Seq,
		"role":       m.Role,
		"content":    m.Content,
		"created_at": m.CreatedAt.Format(time.RFC3339),
	}
	if m.ParsedJSON != "" {
		v["parsed"] = json.RawMessage(m.ParsedJSON)
	}
	return v
}

func jsonOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
