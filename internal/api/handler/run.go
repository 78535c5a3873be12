package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// RunHandler serves the run history.
type RunHandler struct {
	store storage.Storage
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(store storage.Storage) *RunHandler {
	return &RunHandler{store: store}
}

// List lists runs newest first. Supports limit and offset query parameters.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRunLimit)
	if err != nil || limit < 1 || limit > maxRunLimit {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "limit must be between 1 and 100")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "offset must not be negative")
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// Get returns one run with its operations.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Latest returns the most recent run.
func (h *RunHandler) Latest(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetLatestRun(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
