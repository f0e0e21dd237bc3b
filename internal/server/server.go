// Package server exposes extraction runs over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/store"
	apperrors "github.com/metriclens/metriclens/internal/errors"
	"github.com/metriclens/metriclens/internal/observability"
)

// Runner executes one extraction run over the given timeframe. Each call
// uses a fresh orchestrator; runners are never reused across runs.
type Runner interface {
	Run(ctx context.Context, timeframe core.DateRange) (*core.Dataset, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, timeframe core.DateRange) (*core.Dataset, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, timeframe core.DateRange) (*core.Dataset, error) {
	return f(ctx, timeframe)
}

// AuditStore is the persistence surface the server needs.
type AuditStore interface {
	SaveRun(ctx context.Context, dataset *core.Dataset) error
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*store.RunRecord, error)
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	runner       Runner
	audits       *auditHandler
	lookbackDays int
}

// New creates a new HTTP server instance.
func New(host string, port int, runner Runner, store AuditStore, lookbackDays int) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:       r,
		host:         host,
		port:         port,
		runner:       runner,
		lookbackDays: lookbackDays,
	}
	s.audits = &auditHandler{
		runner:       runner,
		store:        store,
		lookbackDays: lookbackDays,
	}

	s.registerRoutes()

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// Runs block the request until every section finishes, so write
		// timeouts are sized for a full extraction, not a quick API call.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing.
func (s *Server) Port() int {
	return s.port
}

// HandleError central handler for all errors.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
