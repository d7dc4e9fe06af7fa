// Package httpapi implements the admin HTTP surface (§6): the gin-based
// router tarsy's cmd/tarsy/main.go and pkg/api wire up, adapted from
// session/alert administration to Source/Run administration.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/contracts"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/coordinator"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/domain"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/storage"
	"github.com/EnergySystemsGroup/Meridian-ESG-sub002/internal/version"
)

// Store is the persistence surface the admin routes need: the coordinator's
// Datastore contract plus the admin-only CRUD and read-aggregation methods
// internal/storage adds alongside it (sources_admin.go, rundetail.go).
type Store interface {
	contracts.Datastore

	ListSources(ctx context.Context) ([]domain.Source, error)
	CreateSource(ctx context.Context, src domain.Source) error
	UpdateSource(ctx context.Context, src domain.Source) error
	DeleteSource(ctx context.Context, id string) error

	ListStagesByRun(ctx context.Context, runID string) ([]domain.Stage, error)
	ListOpportunityPathsByRun(ctx context.Context, runID string) ([]domain.OpportunityPath, error)
	GetDuplicateDetectionSessionByRun(ctx context.Context, runID string) (domain.DuplicateDetectionSession, error)

	GetGlobalForceFlag(ctx context.Context) (bool, error)

	Health(ctx context.Context) (*storage.HealthStatus, error)
}

// Processor is the subset of *coordinator.Coordinator the trigger routes
// drive, narrowed to an interface so tests can exercise routing without a
// real pipeline.
type Processor interface {
	ProcessSource(ctx context.Context, sourceID, runID string, opts coordinator.Options) coordinator.Result
}

// ForceFlagSetter is the subset of *forceflag.Flag PUT
// /system-config/global_force_full_reprocessing drives.
type ForceFlagSetter interface {
	SetGlobal(ctx context.Context, value bool) error
}

// Server bundles the admin surface's dependencies and exposes a ready-to-run
// gin.Engine, matching pkg/api.Server's "bundle collaborators, expose a
// router" shape.
type Server struct {
	store    Store
	runner   Processor
	flags    ForceFlagSetter
	log      *slog.Logger

	similarityThreshold float64
}

// Option customizes a Server at construction.
type Option func(*Server)

// WithSimilarityThreshold overrides the create-Source duplicate-guard
// threshold (default defaultSimilarityThreshold).
func WithSimilarityThreshold(threshold float64) Option {
	return func(s *Server) { s.similarityThreshold = threshold }
}

// New builds a Server over its dependencies.
func New(store Store, runner Processor, flags ForceFlagSetter, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{store: store, runner: runner, flags: flags, log: log, similarityThreshold: defaultSimilarityThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin.Engine serving every route named in §6, plus the
// healthz addition (§6 EXPANDED).
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.log), securityHeaders())

	r.GET("/healthz", s.healthz)

	sources := r.Group("/sources")
	{
		sources.GET("", s.listSources)
		sources.POST("", s.createSource)
		sources.GET("/:id", s.getSource)
		sources.PUT("/:id", s.updateSource)
		sources.DELETE("/:id", s.deleteSource)
		sources.POST("/:id/process", s.triggerSourceProcess)
	}

	r.POST("/process", s.triggerNextDue)
	r.GET("/runs/:id", s.getRun)
	r.GET("/raw-responses/:id", s.getRawResponse)

	r.GET("/system-config/global_force_full_reprocessing", s.getGlobalForceFlag)
	r.PUT("/system-config/global_force_full_reprocessing", s.putGlobalForceFlag)

	return r
}

// requestID injects a request-scoped id, the teacher's correlation-id
// idiom carried through its services' slog attributes.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// accessLog logs one structured line per request via log/slog, matching
// §2's "never fmt.Println/log.Printf in request paths".
func accessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.Info("http request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
}

// securityHeaders sets standard response headers, the gin-native
// equivalent of pkg/api/middleware.go's echo securityHeaders.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	status, err := s.store.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "version": version.Full(), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full(), "database": status})
}
