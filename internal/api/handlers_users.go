package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/persona-labs/persona/internal/contextfmt"
	"github.com/persona-labs/persona/internal/ingest"
	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/retrieval"
	"github.com/persona-labs/persona/internal/store"
)

type UserHandler struct {
	memories  *store.MemoryStore
	cards     *store.UserCardStore
	ingestSvc *ingest.Service
	retriever *retrieval.Retriever
	logger    *slog.Logger
}

func NewUserHandler(
	memories *store.MemoryStore,
	cards *store.UserCardStore,
	ingestSvc *ingest.Service,
	retriever *retrieval.Retriever,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		memories:  memories,
		cards:     cards,
		ingestSvc: ingestSvc,
		retriever: retriever,
		logger:    logger,
	}
}

type ingestResponse struct {
	*models.IngestResult
	Partial *partialDetail `json:"partial,omitempty"`
}

type partialDetail struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// Ingest handles POST /users/{userID}/ingest.
func (h *UserHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req models.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.ingestSvc.Ingest(r.Context(), userID, req.Text, req.Meta)
	if err != nil {
		var partial *memerr.PartialIngestError
		if errors.As(err, &partial) {
			// Some sub-items landed; report both halves so the caller can
			// decide whether to re-ingest.
			writeJSON(w, http.StatusMultiStatus, ingestResponse{
				IngestResult: result,
				Partial:      &partialDetail{Completed: partial.Completed, Failed: partial.Failed},
			})
			return
		}
		var extraction *memerr.ExtractionError
		if errors.As(err, &extraction) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{IngestResult: result})
}

// Context handles POST /users/{userID}/context.
func (h *UserHandler) Context(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req models.ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	rc, err := h.retriever.GetContext(r.Context(), userID, req)
	if err != nil {
		var re *memerr.RetrievalError
		if errors.As(err, &re) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text, view := contextfmt.Format(req.Query, rc)
	writeJSON(w, http.StatusOK, models.ContextResponse{
		Context: text,
		View:    string(view),
		Items:   rc.Items,
		Meta:    rc.Meta,
	})
}

// ListNotes handles GET /users/{userID}/notes. By default only active notes;
// ?status=completed|dismissed|all widens the view.
func (h *UserHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status := r.URL.Query().Get("status")

	notes, err := h.memories.ListNotes(r.Context(), userID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// Chain handles GET /users/{userID}/chain: the user's episodes in temporal
// order, oldest first.
func (h *UserHandler) Chain(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	episodes, err := h.memories.EpisodesInRange(r.Context(), userID, 0, 1<<62)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": episodes})
}

// Card handles GET /users/{userID}/card.
func (h *UserHandler) Card(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	card, err := h.cards.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "no card for user")
		return
	}
	writeJSON(w, http.StatusOK, card)
}
