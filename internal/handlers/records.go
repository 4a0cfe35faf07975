package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"faultline/internal/alerts"
	"faultline/internal/models"
	"faultline/internal/storage"
)

// RecordReader reads quarantined messages.
type RecordReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.ImportFailureRecord, error)
	List(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// RecordHandler exposes import failure records and recent alerts.
type RecordHandler struct {
	records RecordReader
	journal *alerts.Journal
}

func NewRecordHandler(records RecordReader, journal *alerts.Journal) *RecordHandler {
	return &RecordHandler{records: records, journal: journal}
}

func (h *RecordHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /import-failures", h.list)
	mux.HandleFunc("GET /import-failures/{id}", h.get)
	if h.journal != nil {
		mux.HandleFunc("GET /alerts", h.alerts)
	}
}

func (h *RecordHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ids, err := h.records.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ids": ids, "count": len(ids)})
}

func (h *RecordHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), id)
	if errors.Is(err, storage.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "import failure not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *RecordHandler) alerts(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.journal.Recent())
}
