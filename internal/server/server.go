// Package server provides the ragchat HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ragchat/internal/models"
	"github.com/hyperjump/ragchat/internal/retrieval"
	"github.com/hyperjump/ragchat/internal/storage"
	"github.com/hyperjump/ragchat/pkg/utils"
	"go.uber.org/zap"
)

// Retriever runs one query through the pipeline. *retrieval.Orchestrator implements it.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query, cfg models.RetrievalConfig) (*models.RankedResult, []models.Explanation, error)
}

// Sizer reports the number of entries in an index.
type Sizer interface {
	Size() int
}

// Server is the HTTP server for the retrieval API. It serves reads only; indexing
// happens offline through the CLI.
type Server struct {
	retriever Retriever
	store     storage.Storage
	base      models.RetrievalConfig
	addr      string
	logger    *zap.Logger
	vectors   Sizer
	diskPaths []string
	info      map[string]interface{}
	timeout   time.Duration
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = utils.OrNop(l) }
}

// WithVectorIndex reports the vector index size on /api/v1/status.
func WithVectorIndex(v Sizer) Option {
	return func(s *Server) { s.vectors = v }
}

// WithDiskPaths reports the combined size of paths on /api/v1/status.
func WithDiskPaths(paths ...string) Option {
	return func(s *Server) { s.diskPaths = paths }
}

// WithInfo adds static key/value pairs to the status "config" section.
func WithInfo(info map[string]interface{}) Option {
	return func(s *Server) { s.info = info }
}

// WithRequestTimeout bounds each request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer returns a server answering queries with retriever. base is the
// configuration each request's overrides are applied to.
func NewServer(retriever Retriever, store storage.Storage, base models.RetrievalConfig, addr string, opts ...Option) *Server {
	s := &Server{
		retriever: retriever,
		store:     store,
		base:      base,
		addr:      addr,
		logger:    zap.NewNop(),
		timeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/retrieve", s.handleRetrieve)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/documents/{id}", s.handleGetDocument)
	r.Get("/api/v1/chunks/{id}", s.handleGetChunk)
	r.Get("/health", s.handleHealth)
	return r
}

// Start serves until Stop is called. It returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
