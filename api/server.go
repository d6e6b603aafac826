// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cohort-ledger/admin"
	"cohort-ledger/blobstore"
	"cohort-ledger/ledger"
)

// MemberHeader carries the caller's opaque member id.
const MemberHeader = "X-Member-ID"

var (
	errBadRequest      = errors.New("bad request")
	errUnauthenticated = errors.New("member id header is required")
)

// Options wires the server's collaborators.
type Options struct {
	Manager   *ledger.Manager
	Authority *admin.Authority
	Blobs     blobstore.Store
	// StaticDir is served under /static when the local blob store is used.
	StaticDir      string
	MaxUploadBytes int64
	Logger         *slog.Logger
	Registry       *prometheus.Registry
}

// Server holds the HTTP handlers.
type Server struct {
	mgr       *ledger.Manager
	auth      *admin.Authority
	blobs     blobstore.Store
	staticDir string
	maxUpload int64
	logger    *slog.Logger
	registry  *prometheus.Registry
	metrics   httpMetrics
}

func NewServer(opts Options) *Server {
	s := &Server{
		mgr:       opts.Manager,
		auth:      opts.Authority,
		blobs:     opts.Blobs,
		staticDir: opts.StaticDir,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
		registry:  opts.Registry,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics.init(s.registry)
	return s
}

// Router builds the chi router with every route registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.metrics.middleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	if s.staticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}

	r.Post("/login", s.handleLogin)
	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListMembers)
		r.Get("/{id}", s.handleGetMember)
		r.Patch("/{id}", s.handleSetGender)
		r.Get("/{id}/submissions", s.handleMemberSubmissions)
	})
	r.Get("/rankings", s.handleRankings)
	r.Route("/submissions", func(r chi.Router) {
		r.Get("/", s.handleListSubmissions)
		r.Post("/", s.handleCreateSubmission)
		r.Get("/{id}", s.handleGetSubmission)
		r.Put("/{id}", s.handleUpdateSubmission)
		r.Delete("/{id}", s.handleDeleteSubmission)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Post("/token", s.handleAdminToken)
		r.Post("/reconcile", s.handleReconcile)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// caller derives the request's identity. The admin capability comes only
// from a verified bearer token; a token that fails verification is an error
// rather than a silent downgrade.
func (s *Server) caller(r *http.Request) (ledger.Caller, error) {
	c := ledger.Caller{MemberID: strings.TrimSpace(r.Header.Get(MemberHeader))}
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return c, nil
	}
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok {
		return c, admin.ErrInvalidToken
	}
	if err := s.auth.VerifyToken(strings.TrimSpace(token)); err != nil {
		return c, err
	}
	c.Admin = true
	return c, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.mgr.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
