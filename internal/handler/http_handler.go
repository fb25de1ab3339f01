package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/codementor/integrity/internal/auth"
	"github.com/codementor/integrity/internal/enricher"
	"github.com/codementor/integrity/internal/pipeline"
	"github.com/codementor/integrity/internal/reporter"
	"github.com/codementor/integrity/internal/telemetry"
)

const maxBodyBytes = 8 << 20

type HTTPHandler struct {
	pipeline *pipeline.Pipeline
	reporter *reporter.Reporter
	enricher *enricher.Enricher
}

func NewHTTPHandler(p *pipeline.Pipeline, r *reporter.Reporter, e *enricher.Enricher) *HTTPHandler {
	return &HTTPHandler{
		pipeline: p,
		reporter: r,
		enricher: e,
	}
}

// Routes mounts the authenticated API. Callers add auth and rate-limit middleware.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/events", h.HandleEvent)
	r.Post("/sessions/{sessionID}/events", h.HandleBatch)
	r.Get("/sessions/{sessionID}", h.HandleSessionRecords)
	r.Get("/sessions/{sessionID}/summary", h.HandleSessionSummary)
	r.Get("/sessions/{sessionID}/flagged", h.HandleFlagged)
	r.Post("/keystroke", h.HandleKeystroke)
	r.Post("/keystroke/clear", h.HandleKeystrokeClear)
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleBatch accepts {sessionId, events[]}. The path session id must match the body.
func (h *HTTPHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var batch telemetry.Batch
	if !decodeBody(w, r, &batch) {
		return
	}
	if pathID := chi.URLParam(r, "sessionID"); pathID != batch.SessionID {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId does not match path"})
		return
	}

	res, err := h.pipeline.SubmitBatch(r.Context(), h.meta(r), batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleEvent accepts a single event.
func (h *HTTPHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev telemetry.Event
	if !decodeBody(w, r, &ev) {
		return
	}

	res, err := h.pipeline.SubmitEvent(r.Context(), h.meta(r), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleKeystroke accepts a full editor snapshot.
func (h *HTTPHandler) HandleKeystroke(w http.ResponseWriter, r *http.Request) {
	var snap pipeline.Snapshot
	if !decodeBody(w, r, &snap) {
		return
	}

	res, err := h.pipeline.TrackSnapshot(r.Context(), h.meta(r), snap)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type clearRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *HTTPHandler) HandleKeystrokeClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.pipeline.Reset(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(pipeline.StatusOK)})
}

func (h *HTTPHandler) HandleSessionRecords(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	res, err := h.reporter.SessionRecords(r.Context(), id, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleSessionSummary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	res, err := h.reporter.SessionSummary(r.Context(), id, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) HandleFlagged(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	res, err := h.reporter.FlaggedRecords(r.Context(), id, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) meta(r *http.Request) pipeline.Meta {
	id, _ := auth.FromContext(r.Context())
	return pipeline.Meta{
		Identity: id,
		Client:   h.enricher.ClientInfo(r.Header.Get("User-Agent"), clientIP(r)),
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	defer r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return false
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

// writeError maps domain errors to status codes. Persistence details are logged, not
// returned.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: strings.TrimPrefix(err.Error(), "invalid request: ")})
	case errors.Is(err, reporter.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no events found for session"})
	case errors.Is(err, reporter.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
	case errors.Is(err, pipeline.ErrPersistence):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "events could not be recorded"})
	default:
		log.Error().Err(err).Msg("Unhandled request error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// CORSMiddleware allows browser editors on origin to call the API.
func CORSMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
