package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/loqalabs/mockchat/internal/chat"
	"github.com/loqalabs/mockchat/internal/eventstore"
)

const (
	maxBodyBytes     = 1 << 20
	sessionHeader    = "X-Session-ID"
	errInternal      = "Internal server error"
	errMethod        = "Method not allowed"
	errInvalid       = "Invalid request"
	defaultListLimit = 100
)

// Handler serves the mock chat endpoints used by the showcase front end.
type Handler struct {
	generator    *chat.Generator
	store        *eventstore.Store
	defaultModel string
	logger       *slog.Logger
}

// NewHandler creates the chat HTTP handler. store may be nil.
func NewHandler(generator *chat.Generator, store *eventstore.Store, defaultModel string, logger *slog.Logger) *Handler {
	return &Handler{
		generator:    generator,
		store:        store,
		defaultModel: defaultModel,
		logger:       logger.With(slog.String("component", "chat-api")),
	}
}

// Register mounts the chat routes on r.
func (h *Handler) Register(r chi.Router) {
	r.HandleFunc("/api/chat", h.handleChat)
	r.HandleFunc("/api/chat/stream", h.handleStream)
	r.Get("/api/sessions/{sessionID}/events", h.handleSessionEvents)
}

type chatRequestBody struct {
	Messages  []chat.Message `json:"messages"`
	Model     string         `json:"model"`
	WebSearch bool           `json:"webSearch"`
}

type part struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

type chatResponseBody struct {
	ID      string    `json:"id"`
	Role    chat.Role `json:"role"`
	Content string    `json:"content"`
	Parts   []part    `json:"parts"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		setCORS(w.Header())
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		h.generate(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errMethod})
	}
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		h.logger.Warn("failed to decode chat request", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errInternal})
		return
	}
	sessionID := sessionFrom(r)
	traceID := chimiddleware.GetReqID(r.Context())
	h.record(r.Context(), sessionID, traceID, req.Model, eventstore.TypeChatRequest, req)

	resp, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, sessionID, traceID, req.Model, err)
		return
	}
	h.record(r.Context(), sessionID, traceID, req.Model, eventstore.TypeChatResponse, resp)

	setCORS(w.Header())
	w.Header().Set(sessionHeader, sessionID)
	writeJSON(w, http.StatusOK, toResponseBody(resp))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, sessionID, traceID, model string, err error) {
	h.record(r.Context(), sessionID, traceID, model, eventstore.TypeChatError, errorBody{Error: err.Error()})
	if errors.Is(err, chat.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errInvalid})
		return
	}
	h.logger.Warn("chat generation failed", slogError(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: errInternal})
}

func (h *Handler) decode(r *http.Request) (chat.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return chat.Request{}, fmt.Errorf("read body: %w", err)
	}
	var payload *chatRequestBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return chat.Request{}, fmt.Errorf("parse body: %w", err)
	}
	if payload == nil {
		return chat.Request{}, errors.New("parse body: null payload")
	}
	model := payload.Model
	if model == "" {
		model = h.defaultModel
	}
	return chat.Request{Messages: payload.Messages, Model: model, WebSearch: payload.WebSearch}, nil
}

func toResponseBody(resp chat.Response) chatResponseBody {
	parts := []part{{Type: "text", Text: resp.Message.Content}}
	if resp.Reasoning != "" {
		parts = append(parts, part{Type: "reasoning", Text: resp.Reasoning})
	}
	for _, src := range resp.Sources {
		parts = append(parts, part{Type: "source-url", URL: src.URL, Title: src.Title})
	}
	return chatResponseBody{
		ID:      resp.Message.ID,
		Role:    chat.RoleAssistant,
		Content: resp.Message.Content,
		Parts:   parts,
	}
}

func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: errInvalid})
			return
		}
		limit = parsed
	}
	events, err := h.store.ListSessionEvents(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Warn("failed to list session events", slog.String("session_id", sessionID), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errInternal})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "events": events})
}

func (h *Handler) record(ctx context.Context, sessionID, traceID, model, eventType string, v any) {
	if h.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := h.store.AppendSession(ctx, sessionID, model); err != nil {
		h.logger.Warn("failed to record chat session", slogError(err))
		return
	}
	if err := h.store.AppendJSON(ctx, sessionID, traceID, eventType, v); err != nil {
		h.logger.Warn("failed to record chat event", slog.String("type", eventType), slogError(err))
	}
}

func sessionFrom(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
