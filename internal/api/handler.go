package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Upstream is the research backend as seen by the proxy.
type Upstream interface {
	Asker
	History(ctx context.Context, userID string) ([]byte, error)
}

// Deps holds dependencies for the proxy handler.
type Deps struct {
	Upstream Upstream
	Sessions Sessions
	Logger   *slog.Logger
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Question string `json:"question" validate:"required"`
}

var askValidate = validator.New()

// NewHandler returns the proxy's http.Handler: the answer stream, the
// history passthrough, and health and metrics endpoints.
func NewHandler(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	framer := NewFramer(deps.Upstream, logger)

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Sessions))
		r.Post("/ask", handleAsk(framer, logger))
		r.Get("/history", handleHistory(deps.Upstream, logger))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAsk(f *Framer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "Invalid request body: %v", err)
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if err := askValidate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "Question is required")
			return
		}

		if _, ok := w.(http.Flusher); !ok {
			httpError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		userID, _ := UserID(r.Context())
		requestID := uuid.New().String()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.Header().Set("X-Request-ID", requestID)
		w.WriteHeader(http.StatusOK)

		f.relay(r.Context(), logger.With("request_id", requestID, "user_id", userID), w, req.Question, userID)
	}
}

func handleHistory(up Upstream, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserID(r.Context())

		body, err := up.History(r.Context(), userID)
		if err != nil {
			logger.Error("fetching history", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "Failed to fetch history")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}
