package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/persona-labs/persona/internal/ingest"
	"github.com/persona-labs/persona/internal/llm"
	"github.com/persona-labs/persona/internal/retrieval"
	"github.com/persona-labs/persona/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	memories *store.MemoryStore,
	cards *store.UserCardStore,
	ingestSvc *ingest.Service,
	retriever *retrieval.Retriever,
	ollama *llm.Ollama,
	authToken string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, ollama)
	userH := NewUserHandler(memories, cards, ingestSvc, retriever, logger)
	noteH := NewNoteHandler(memories)

	r.Get("/health", healthH.Health)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(authToken))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/ingest", userH.Ingest)
			r.Post("/context", userH.Context)
			r.Get("/notes", userH.ListNotes)
			r.Get("/chain", userH.Chain)
			r.Get("/card", userH.Card)
		})

		r.Route("/notes/{id}", func(r chi.Router) {
			r.Get("/", noteH.Get)
			r.Patch("/status", noteH.UpdateStatus)
		})
	})

	return r
}
