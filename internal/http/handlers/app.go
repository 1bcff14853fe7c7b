package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/seobohdanov/maxagainst-sub001/internal/infra"
	"github.com/seobohdanov/maxagainst-sub001/internal/orchestrator"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Orch   *orchestrator.Orchestrator
	Logger infra.Logger
}

// NewApp builds the handler container.
func NewApp(orch *orchestrator.Orchestrator, logger infra.Logger) *App {
	return &App{Orch: orch, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"error":   slug,
		"message": message,
	})
}
