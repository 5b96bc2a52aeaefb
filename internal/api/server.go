// Package api provides the read-only HTTP observer surface and the
// websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/db"
	sterrors "github.com/UnlikeOtherAI/steroids-cli-sub006/internal/errors"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/events"
	"github.com/UnlikeOtherAI/steroids-cli-sub006/internal/health"
)

// Cache windows for the storage endpoints.
const (
	storageDetailTTL = 60 * time.Second
	storageListTTL   = 5 * time.Minute
)

// Server is the steroids observer API server. All endpoints are reads;
// mutation happens only through runners and the CLI.
type Server struct {
	addr   string
	global *db.GlobalDB // nil = degraded: no registry, empty runners view
	mux    *http.ServeMux
	logger *slog.Logger

	publisher events.Publisher
	wsHandler *WSHandler

	healthCfg health.Config
	now       func() time.Time

	// openProject opens a project store read-only; the release func
	// closes it. Swapped in tests.
	openProject func(path string) (*db.ProjectDB, func(), error)

	detailCache *ttlCache[*StorageReport]
	listCache   *ttlCache[[]StorageSummary]
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPublisher sets the event publisher backing /events.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithHealthConfig overrides the detector windows.
func WithHealthConfig(cfg health.Config) Option {
	return func(s *Server) { s.healthCfg = cfg }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithProjectOpener overrides how project stores are opened (tests).
func WithProjectOpener(open func(path string) (*db.ProjectDB, func(), error)) Option {
	return func(s *Server) { s.openProject = open }
}

// New creates the observer server. global may be nil; the server then
// runs degraded: the health endpoint sees no runners and path
// validation cannot consult the registry.
func New(addr string, global *db.GlobalDB, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		global:    global,
		mux:       http.NewServeMux(),
		logger:    slog.Default(),
		publisher: events.NewMemoryPublisher(),
		healthCfg: health.DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.openProject == nil {
		s.openProject = func(path string) (*db.ProjectDB, func(), error) {
			p, err := db.OpenProjectReadOnly(path)
			if err != nil {
				return nil, nil, err
			}
			return p, func() { _ = p.Close() }, nil
		}
	}
	s.detailCache = newTTLCache[*StorageReport](storageDetailTTL, s.now)
	s.listCache = newTTLCache[[]StorageSummary](storageListTTL, s.now)
	s.wsHandler = NewWSHandler(s.publisher, s.logger)

	s.registerRoutes()
	return s
}

// Publisher returns the event publisher backing /events.
func (s *Server) Publisher() events.Publisher {
	return s.publisher
}

// Handler returns the route mux (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// CORS middleware wrapper
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}

	s.mux.HandleFunc("GET /health", cors(s.handleHealth))
	s.mux.HandleFunc("GET /incidents", cors(s.handleIncidents))
	s.mux.HandleFunc("GET /runners", cors(s.handleRunners))
	s.mux.HandleFunc("GET /runners/active-tasks", cors(s.handleActiveTasks))
	s.mux.HandleFunc("GET /projects/storage", cors(s.handleStorage))

	// Websocket event stream (no CORS wrapper; the upgrade handshake
	// carries its own origin check).
	s.mux.HandleFunc("GET /events", s.wsHandler.ServeHTTP)
}

// Start starts the API server and blocks.
func (s *Server) Start() error {
	s.logger.Info("starting observer API", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// StartContext starts the API server with context for graceful shutdown.
func (s *Server) StartContext(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting observer API", "addr", s.addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// codedError writes a structured JSON error response with the status
// mapped from the error's category.
func (s *Server) codedError(w http.ResponseWriter, err *sterrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err)
}

// resolveProject normalizes the raw path and checks it against the
// project registry. Unregistered paths are rejected so the observer
// never walks arbitrary directories.
func (s *Server) resolveProject(raw string) (string, *sterrors.Error) {
	if raw == "" {
		return "", sterrors.New(sterrors.CodeNotInitialized, "missing project path parameter")
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", sterrors.Newf(sterrors.CodeNotRegistered, "bad project path %q", raw).WithCause(err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if s.global == nil {
		// Degraded: no registry to consult.
		return abs, nil
	}
	if _, err := s.global.GetProjectByPath(abs); err != nil {
		if err == db.ErrProjectNotFound {
			return "", sterrors.Newf(sterrors.CodeNotRegistered, "project %s is not registered", abs)
		}
		return "", sterrors.Wrap(err, sterrors.CodeStoreCorrupt, "project lookup failed")
	}
	return abs, nil
}
