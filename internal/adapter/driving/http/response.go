package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/winterhq/tokenforge/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ConfigureResponse acknowledges a stored account list.
type ConfigureResponse struct {
	AccountCount int `json:"account_count"`
}

// TokenResponse is the JSON representation of one exchanged token.
type TokenResponse struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// GenerateResponse is the JSON representation of a completed batch.
type GenerateResponse struct {
	Count        int             `json:"count"`
	ArtifactPath string          `json:"artifact_path"`
	Tokens       []TokenResponse `json:"tokens"`
}

// PublishResponse reports where the artifact landed in the remote repository.
type PublishResponse struct {
	RemotePath string `json:"remote_path"`
}

// StatusResponse is the JSON representation of a user's stored state.
type StatusResponse struct {
	AccountCount    int    `json:"account_count"`
	LastTokenCount  int    `json:"last_token_count"`
	LastResultPath  string `json:"last_result_path,omitempty"`
	LastGeneratedAt string `json:"last_generated_at,omitempty"`
}

// RunResponse is the JSON representation of one run-history entry.
type RunResponse struct {
	ID           int64  `json:"id"`
	CycleID      string `json:"cycle_id,omitempty"`
	UserID       string `json:"user_id"`
	Trigger      string `json:"trigger"`
	TokenCount   int    `json:"token_count"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	RemotePath   string `json:"remote_path,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// toGenerateResponse converts a domain BatchResult to its JSON representation.
func toGenerateResponse(result *model.BatchResult) GenerateResponse {
	tokens := make([]TokenResponse, 0, len(result.Tokens))
	for _, t := range result.Tokens {
		tokens = append(tokens, TokenResponse{UID: t.UID, Token: t.Token})
	}
	return GenerateResponse{
		Count:        result.Count,
		ArtifactPath: result.ArtifactPath,
		Tokens:       tokens,
	}
}

// toStatusResponse converts a domain UserRecord to its JSON representation.
func toStatusResponse(rec model.UserRecord) StatusResponse {
	resp := StatusResponse{
		AccountCount:   len(rec.Accounts),
		LastTokenCount: rec.LastTokenCount,
		LastResultPath: rec.LastResultPath,
	}
	if rec.LastGeneratedAt != nil {
		resp.LastGeneratedAt = rec.LastGeneratedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toRunResponse converts a domain Run to its JSON representation.
func toRunResponse(run model.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		CycleID:      run.CycleID,
		UserID:       run.UserID,
		Trigger:      string(run.Trigger),
		TokenCount:   run.TokenCount,
		ArtifactPath: run.ArtifactPath,
		RemotePath:   run.RemotePath,
		Status:       string(run.Status),
		Error:        run.Error,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:   run.FinishedAt.UTC().Format(time.RFC3339),
	}
}
