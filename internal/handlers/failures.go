package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"faultline/internal/failure"
	"faultline/internal/logger"
	"faultline/internal/middleware"
)

// FailureService is the part of failure.Manager the admin API drives.
type FailureService interface {
	Get(ctx context.Context, uniqueID uuid.UUID) (*failure.Workflow, error)
	RequestRetry(ctx context.Context, uniqueID uuid.UUID, targetAddress string) (*failure.PerformRetry, failure.Outcome, error)
	RegisterRetrySuccess(ctx context.Context, uniqueID, retryID uuid.UUID) (failure.Outcome, error)
}

// FailureHandler exposes failure workflows over HTTP.
type FailureHandler struct {
	svc FailureService
}

func NewFailureHandler(svc FailureService) *FailureHandler {
	return &FailureHandler{svc: svc}
}

// Register mounts the failure routes on mux.
func (h *FailureHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /failures/{id}", h.get)
	mux.HandleFunc("POST /failures/{id}/retry", h.retry)
	mux.HandleFunc("POST /failures/{id}/retries/{retryId}/succeeded", h.succeeded)
}

// WorkflowResponse is a workflow plus its derived status.
type WorkflowResponse struct {
	*failure.Workflow
	Status failure.Status `json:"status"`
}

// RetryRequest is the optional body of a retry request.
type RetryRequest struct {
	TargetAddress string `json:"target_address,omitempty"`
}

// OutcomeResponse reports what a signal did.
type OutcomeResponse struct {
	UniqueID    uuid.UUID       `json:"unique_id"`
	Outcome     failure.Outcome `json:"outcome"`
	RetryID     *uuid.UUID      `json:"retry_id,omitempty"`
	RequestedAt *time.Time      `json:"requested_at,omitempty"`
}

func (h *FailureHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	wf, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, WorkflowResponse{Workflow: wf, Status: wf.Status()})
}

func (h *FailureHandler) retry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req RetryRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	cmd, outcome, err := h.svc.RequestRetry(r.Context(), id, req.TargetAddress)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if outcome.IsNoop() {
		WriteJSON(w, http.StatusOK, OutcomeResponse{UniqueID: id, Outcome: outcome})
		return
	}
	WriteJSON(w, http.StatusAccepted, OutcomeResponse{
		UniqueID:    id,
		Outcome:     outcome,
		RetryID:     &cmd.RetryID,
		RequestedAt: &cmd.RequestedAt,
	})
}

func (h *FailureHandler) succeeded(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	retryID, ok := pathUUID(w, r, "retryId")
	if !ok {
		return
	}

	outcome, err := h.svc.RegisterRetrySuccess(r.Context(), id, retryID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, OutcomeResponse{UniqueID: id, Outcome: outcome})
}

func (h *FailureHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, failure.ErrWorkflowNotFound):
		writeError(w, http.StatusNotFound, "failure not found")
	case errors.Is(err, failure.ErrConflictRetriesExhausted):
		writeError(w, http.StatusConflict, "failure is being updated concurrently, try again")
	default:
		log := logger.WithRequestID(middleware.RequestID(r.Context()))
		log.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("failure request failed")
		writeError(w, http.StatusServiceUnavailable, "failure store unavailable")
	}
}
