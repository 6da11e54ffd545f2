package api

import (
	"net/http"

	"github.com/persona-labs/persona/internal/llm"
	"github.com/persona-labs/persona/internal/store"
)

type serviceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status      string       `json:"status"`
	Ollama      serviceCheck `json:"ollama"`
	DB          serviceCheck `json:"db"`
	MemoryCount int          `json:"memoryCount,omitempty"`
}

type HealthHandler struct {
	db     *store.DB
	ollama *llm.Ollama
}

func NewHealthHandler(db *store.DB, ollama *llm.Ollama) *HealthHandler {
	return &HealthHandler{db: db, ollama: ollama}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if err := h.ollama.HealthCheck(r.Context()); err != nil {
		resp.Ollama = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Ollama = serviceCheck{Status: "ok"}
	}

	count, err := h.db.MemoryCount()
	if err != nil {
		resp.DB = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = serviceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
