package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/store"
)

type NoteHandler struct {
	memories *store.MemoryStore
}

func NewNoteHandler(memories *store.MemoryStore) *NoteHandler {
	return &NoteHandler{memories: memories}
}

// Get handles GET /notes/{id}.
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.memories.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil || m.Type != models.TypeNote {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateStatus handles PATCH /notes/{id}/status. Notes are retired by status
// change, never deleted.
func (h *NoteHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !req.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	m, err := h.memories.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil || m.Type != models.TypeNote {
		writeError(w, http.StatusNotFound, "note not found")
		return
	}

	if err := h.memories.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m.Status = req.Status
	writeJSON(w, http.StatusOK, m)
}
