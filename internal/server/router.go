package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterDeps are the handlers and middleware the router mounts.
type RouterDeps struct {
	Documents   *DocumentHandler
	Auth        *AuthHandler
	Authn       *Authenticator
	RateLimiter *RateLimiter // nil disables upload rate limiting
	Ready       ReadinessCheck
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := mux.NewRouter()
	router.Use(Logging(logger))

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": "pdftext"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdftext"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", d.Auth.Login).Methods(http.MethodPost)

	protected := api.PathPrefix("").Subrouter()
	protected.Use(RequireAuth(d.Authn, logger))

	upload := http.Handler(http.HandlerFunc(d.Documents.Upload))
	if d.RateLimiter != nil {
		upload = d.RateLimiter.Middleware(upload)
	}

	protected.HandleFunc("/documents", d.Documents.List).Methods(http.MethodGet)
	protected.Handle("/documents", upload).Methods(http.MethodPost)
	protected.HandleFunc("/documents/export.xlsx", d.Documents.Export).Methods(http.MethodGet)
	protected.HandleFunc("/documents/{id}", d.Documents.Get).Methods(http.MethodGet)
	protected.HandleFunc("/documents/{id}/republish", d.Documents.Republish).Methods(http.MethodPost)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(router)
}
