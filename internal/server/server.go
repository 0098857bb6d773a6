// Package server is the membersync HTTP surface: the Registry sync API
// served over the reference Registry, the push webhook, the audit and
// health endpoints, the Portal application write path and /metrics.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/membersync/internal/portal"
	"github.com/roach88/membersync/internal/registry"
	"github.com/roach88/membersync/internal/store"
	"github.com/roach88/membersync/internal/trigger"
)

// Deps are the components the handlers serve. Registry, Portal and Push
// may be nil; their routes then answer 503.
type Deps struct {
	Store    *store.Store
	Registry *registry.Registry
	Portal   *portal.Portal
	Push     *trigger.Push
	Gatherer prometheus.Gatherer
	Token    string
	Logger   *slog.Logger
}

// Server routes requests to the handlers.
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger *slog.Logger
}

// New builds the router.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{deps: d, engine: gin.New(), logger: d.Logger}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	auth := bearerAuth(s.deps.Token)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	sync := r.Group("/api/sync", auth)
	{
		sync.GET("/changes", s.listChanges)
		sync.POST("/apply", s.applyChanges)
		sync.POST("/mark-synced", s.markSynced)
		sync.GET("/member/:key", s.getMember)
	}

	r.POST("/hooks/sync", auth, s.hookSync)

	audit := r.Group("/api/audit", auth)
	{
		audit.GET("/runs", s.listRuns)
		audit.GET("/health", s.health)
	}

	members := r.Group("/api/portal/members", auth)
	{
		members.PUT("/:key", s.putPortalMember)
		members.DELETE("/:key", s.deletePortalMember)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// bearerAuth checks the Authorization header in constant time. An empty
// token disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			WriteError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
