package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/materialize"
	"server/internal/middleware"
	"server/internal/payment"
	"server/internal/provider"
	"server/internal/reconcile"
)

// App bundles the handler dependencies.
type App struct {
	Cfg          *infra.Config
	Logger       zerolog.Logger
	Jobs         domain.JobRepository
	Credits      *credits.Service
	Payments     *payment.Service
	Registry     *provider.Registry
	Reconciler   *reconcile.Reconciler
	Editor       *provider.GeminiEditor
	Materializer *materialize.Materializer
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
