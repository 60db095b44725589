// Package server exposes the ingest and query pipelines over HTTP.
// All endpoints speak JSON; errors carry a machine-readable kind so
// clients can branch without parsing messages.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/mnemo/pkg/auth"
	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/observability"
	"github.com/kadirpekel/mnemo/pkg/pipeline"
)

// defaultIngestSlots bounds synchronous ingests in flight. Beyond it
// the server sheds load with a busy error instead of queueing.
const defaultIngestSlots = 4

// Deps bundles what the server serves. Auth, Metrics, Events, and
// Health are optional.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Query    *pipeline.Query
	Corpus   *corpus.Manager
	Auth     *auth.Validator
	Metrics  *observability.Metrics
	Events   *observability.EventLog
	Health   *observability.HealthRegistry

	// IngestSlots overrides the concurrent ingest bound.
	IngestSlots int
}

// Server is the HTTP front of the service.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	http   *http.Server
	slots  chan struct{}
	logger *slog.Logger
}

// New builds the server. The pipeline, query, and corpus dependencies
// are required.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Query == nil || deps.Corpus == nil {
		return nil, document.NewError(document.KindFatal, "server.new", "missing required dependency")
	}
	cfg.SetDefaults()

	slots := deps.IngestSlots
	if slots <= 0 {
		slots = defaultIngestSlots
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		slots:  make(chan struct{}, slots),
		logger: slog.Default().With("component", "server"),
	}, nil
}

// Router assembles the route tree with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(observability.Middleware(s.deps.Metrics, s.deps.Events))
	if s.cfg.CORS != nil {
		r.Use(corsMiddleware(s.cfg.CORS))
	}
	if s.deps.Auth != nil && s.cfg.Auth != nil && s.cfg.Auth.Enabled {
		r.Use(auth.Middleware(s.deps.Auth, s.cfg.Auth.ExcludedPaths))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/search", s.handleSearch)
		r.Post("/chat", s.handleChat)
		r.Get("/documents/{docID}", s.handleGetDocument)
		r.Delete("/documents/{docID}", s.handleDeleteDocument)
		r.Get("/threads/{threadID}", s.handleThread)
		r.Get("/entities/{kind}/{name}/timeline", s.handleEntityTimeline)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Start serves until the context is cancelled, then drains connections
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// corsMiddleware answers preflight requests and stamps the allow
// headers from config. An empty origin list allows any origin.
func corsMiddleware(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type"}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !originAllowed(cfg.AllowedOrigins, origin) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			if cfg.AllowCredentials != nil && *cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
