// Package httphandler is the HTTP driving adapter serving the command
// surface consumed by the external front end.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/winterhq/tokenforge/internal/application"
	"github.com/winterhq/tokenforge/internal/domain/model"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

const defaultRunsLimit = 50

// Handler serves the REST API.
type Handler struct {
	svc    *application.TokenService
	runs   driven.RunStore
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. runs may be
// nil when run history is disabled.
func NewHandler(svc *application.TokenService, runs driven.RunStore, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		runs:   runs,
		logger: logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /api/v1/users/{id}/accounts", h.Configure)
	mux.HandleFunc("POST /api/v1/users/{id}/generate", h.Generate)
	mux.HandleFunc("POST /api/v1/users/{id}/publish", h.Publish)
	mux.HandleFunc("GET /api/v1/users/{id}/status", h.Status)
	mux.HandleFunc("DELETE /api/v1/users/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Configure replaces the user's guest account list.
func (h *Handler) Configure(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var accounts []model.GuestAccount
	if err := json.NewDecoder(r.Body).Decode(&accounts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: expected a list of accounts")
		return
	}

	if err := h.svc.Configure(r.Context(), userID, accounts); err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		h.logger.Error("configure failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ConfigureResponse{AccountCount: len(accounts)})
}

// Generate runs one batch for the user and returns the result.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	result, err := h.svc.Generate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, application.ErrNotConfigured) {
			writeError(w, http.StatusNotFound, "no guest accounts configured")
			return
		}
		h.logger.Error("generate failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toGenerateResponse(result))
}

// Publish uploads the user's latest artifact to the remote repository.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	remotePath, err := h.svc.Publish(r.Context(), userID)
	if err != nil {
		if errors.Is(err, driven.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "no generated tokens found")
			return
		}
		var pubErr *application.PublishError
		if errors.As(err, &pubErr) {
			h.logger.Error("publish failed", "user", userID, "error", err)
			writeError(w, http.StatusBadGateway, pubErr.Error())
			return
		}
		h.logger.Error("publish failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, PublishResponse{RemotePath: remotePath})
}

// Status returns the user's credential count and last batch metadata.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	rec, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, application.ErrNoData) {
			writeError(w, http.StatusNotFound, "no data for user")
			return
		}
		h.logger.Error("status failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(*rec))
}

// Delete removes all data for the user. Idempotent.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	if err := h.svc.Delete(r.Context(), userID); err != nil {
		h.logger.Error("delete failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListRuns returns recent run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusOK, []RunResponse{})
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
