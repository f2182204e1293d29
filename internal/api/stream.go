package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/mockchat/internal/chat"
	"github.com/loqalabs/mockchat/internal/eventstore"
)

// handleStream renders chat.Generator.Stream as Server-Sent Events.
// Each chunk becomes one event named after its kind; a closing "done" event follows the last word.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		setCORS(w.Header())
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errMethod})
		return
	}

	req, err := h.decode(r)
	if err != nil {
		h.logger.Warn("failed to decode chat request", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errInternal})
		return
	}
	sessionID := sessionFrom(r)
	traceID := chimiddleware.GetReqID(r.Context())
	if len(req.Messages) == 0 {
		h.fail(w, r, sessionID, traceID, req.Model, fmt.Errorf("%w: messages must not be empty", chat.ErrInvalidRequest))
		return
	}
	h.record(r.Context(), sessionID, traceID, req.Model, eventstore.TypeChatRequest, req)

	rc := http.NewResponseController(w)
	header := w.Header()
	setCORS(header)
	header.Set(sessionHeader, sessionID)
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	var final chat.Message
	err = h.generator.Stream(r.Context(), req, func(c chat.Chunk) error {
		if c.Kind == chat.ChunkContent {
			final = c.Message
		}
		if err := writeEvent(w, string(c.Kind), c.Partial()); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		h.logger.Warn("chat stream aborted", slogError(err))
		h.record(r.Context(), sessionID, traceID, req.Model, eventstore.TypeChatError, errorBody{Error: err.Error()})
		if r.Context().Err() == nil {
			_ = writeEvent(w, "error", errorBody{Error: errInternal})
			_ = rc.Flush()
		}
		return
	}
	h.record(r.Context(), sessionID, traceID, req.Model, eventstore.TypeChatResponse, final)
	_ = writeEvent(w, "done", struct{}{})
	_ = rc.Flush()
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
