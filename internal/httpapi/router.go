package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps defines router construction dependencies.
type RouterDeps struct {
	HealthHandler      http.HandlerFunc
	OAuthHandlers      OAuthHandlers
	ClientHandlers     ClientHandlers
	GrantHandlers      GrantHandlers
	RequireAuthHandler func(http.Handler) http.Handler
	MetricsHandler     http.Handler
}

// OAuthHandlers groups the protocol endpoints.
type OAuthHandlers struct {
	Authorize http.HandlerFunc
	Decision  http.HandlerFunc
	Token     http.HandlerFunc
	Revoke    http.HandlerFunc
}

// ClientHandlers groups the client registry endpoints.
type ClientHandlers struct {
	Register     http.HandlerFunc
	List         http.HandlerFunc
	Get          http.HandlerFunc
	GetPublic    http.HandlerFunc
	Update       http.HandlerFunc
	RotateSecret http.HandlerFunc
	Deactivate   http.HandlerFunc
	Delete       http.HandlerFunc
}

// GrantHandlers groups the consented-apps endpoints.
type GrantHandlers struct {
	List       http.HandlerFunc
	Disconnect http.HandlerFunc
}

// NewRouter wires HTTP routes.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.HealthHandler != nil {
		r.Get("/healthz", deps.HealthHandler)
	}
	if deps.MetricsHandler != nil {
		r.Method("GET", "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/oauth", func(r chi.Router) {
			// Token and revocation endpoints authenticate the client
			// themselves; only the user-facing surfaces need a bearer.
			r.With(deps.RequireAuthHandler).Get("/authorize", deps.OAuthHandlers.Authorize)
			r.With(deps.RequireAuthHandler).Post("/authorize", deps.OAuthHandlers.Decision)
			r.Post("/token", deps.OAuthHandlers.Token)
			r.Post("/revoke", deps.OAuthHandlers.Revoke)
			r.Get("/clients/{clientID}", deps.ClientHandlers.GetPublic)
		})

		r.Route("/clients", func(r chi.Router) {
			if deps.RequireAuthHandler != nil {
				r.Use(deps.RequireAuthHandler)
			}
			r.Post("/", deps.ClientHandlers.Register)
			r.Get("/", deps.ClientHandlers.List)
			r.Get("/{clientID}", deps.ClientHandlers.Get)
			r.Patch("/{clientID}", deps.ClientHandlers.Update)
			r.Post("/{clientID}/rotate-secret", deps.ClientHandlers.RotateSecret)
			r.Post("/{clientID}/deactivate", deps.ClientHandlers.Deactivate)
			r.Delete("/{clientID}", deps.ClientHandlers.Delete)
		})

		r.Route("/grants", func(r chi.Router) {
			if deps.RequireAuthHandler != nil {
				r.Use(deps.RequireAuthHandler)
			}
			r.Get("/", deps.GrantHandlers.List)
			r.Delete("/{clientID}", deps.GrantHandlers.Disconnect)
		})
	})

	return r
}
