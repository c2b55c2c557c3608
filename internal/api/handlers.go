package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/embano1/transcribe-longform/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type handler struct {
	records RecordStore
	runs    StateSource
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// listRecords returns the most recent records, newest first.
func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := h.records.ListRecords(r.Context(), limit)
	if err != nil {
		jsonError(w, "failed to list records: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*store.Record{}
	}
	jsonResponse(w, records, http.StatusOK)
}

func (h *handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Record(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load record: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, rec, http.StatusOK)
}

// getState returns the live per-segment state of a run in this process.
func (h *handler) getState(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}

	state, ok := h.runs.State(id)
	if !ok {
		jsonError(w, "no active run for record", http.StatusNotFound)
		return
	}
	jsonResponse(w, state, http.StatusOK)
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid record ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResponse(w, map[string]string{"error": msg}, status)
}
