package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dharsanguruparan/racketdrop/internal/api/handler"
	mw "github.com/dharsanguruparan/racketdrop/internal/api/middleware"
	"github.com/dharsanguruparan/racketdrop/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// RateLimit may be nil to disable limiting.
type Dependencies struct {
	Items     *handler.ItemHandler
	Media     *handler.MediaHandler
	Health    *handler.HealthHandler
	RateLimit *mw.RateLimit
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS)

	r.Get("/healthz", deps.Health.Health)

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/items", deps.Items.Upload)
		r.Post("/api/v1/items/existing", deps.Items.SubmitExisting)
		r.Get("/api/v1/items/{itemID}", deps.Items.Get)
		r.Get("/api/v1/media", deps.Media.List)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}
