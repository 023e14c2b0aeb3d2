package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/circuitbreaker"
	"github.com/aman-churiwal/velero-api/internal/cluster"
	"github.com/aman-churiwal/velero-api/internal/config"
	"github.com/aman-churiwal/velero-api/internal/handler"
	"github.com/aman-churiwal/velero-api/internal/hub"
	"github.com/aman-churiwal/velero-api/internal/metrics"
	"github.com/aman-churiwal/velero-api/internal/middleware"
	"github.com/aman-churiwal/velero-api/internal/operation"
	"github.com/aman-churiwal/velero-api/internal/ratelimit"
	"github.com/aman-churiwal/velero-api/internal/scheduler"
	"github.com/aman-churiwal/velero-api/internal/service"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

const Version = "1.0.0"

type HealthReporter interface {
	Report() cluster.HealthReport
}

// Dependencies are the collaborators the server routes to. Redis, Postgres,
// RequestLogger and Analytics are optional.
type Dependencies struct {
	Config        *config.Config
	Table         *operation.Table
	Gate          *ratelimit.Gate
	Tokens        *auth.TokenService
	Hub           *hub.ConnectionManager
	Jobs          *scheduler.Registry
	Breakers      map[string]*circuitbreaker.CircuitBreaker
	Health        HealthReporter
	Redis         *storage.RedisClient
	Postgres      *storage.Postgres
	RequestLogger *middleware.RequestLogger
	Analytics     *service.AnalyticsService
	Metrics       *metrics.ServerMetrics
	Gatherer      prometheus.Gatherer
	Clock         clock.PassiveClock
	Logger        logrus.FieldLogger
}

type Server struct {
	router     *gin.Engine
	deps       Dependencies
	logger     logrus.FieldLogger
	httpServer *http.Server
	startTime  time.Time
}

func New(deps Dependencies) *Server {
	if deps.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:    gin.New(),
		deps:      deps,
		logger:    deps.Logger.WithField("component", "server"),
		startTime: deps.Clock.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.deps.Logger))
	s.router.Use(middleware.Logger(s.deps.Logger))
	s.router.Use(middleware.CORS(s.deps.Config.WebSocket.AllowedOrigins))
	if s.deps.RequestLogger != nil {
		s.router.Use(s.deps.RequestLogger.Handler())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	authenticate := middleware.Authenticate(s.deps.Tokens)

	ws := handler.NewWebSocketHandler(s.deps.Hub, s.deps.Config.WebSocket.AllowedOrigins, s.deps.Logger)
	// Refresh events carry credential-required data, so only authenticated
	// users may subscribe.
	s.router.GET("/ws", authenticate, middleware.RequireAuth(), ws.Serve)

	s.setupOperationRoutes(authenticate)

	system := handler.NewSystemHandler(s.deps.Breakers, s.deps.Gate, s.deps.Jobs, s.deps.Hub)
	admin := s.router.Group("/admin", authenticate, middleware.RequireAuth())
	{
		admin.GET("/status", s.adminStatus)
		admin.GET("/circuit-breakers", system.CircuitBreakerStatus)
		admin.POST("/circuit-breakers/:name/reset", system.ResetCircuitBreaker)
		admin.GET("/rate-limits", system.RateLimits)
		admin.GET("/cron-jobs", system.CronJobs)
		if s.deps.Analytics != nil {
			admin.GET("/analytics", handler.NewAnalyticsHandler(s.deps.Analytics).GetSummary)
		}
	}
}

// setupOperationRoutes registers one gin route per operation, each behind
// its own rate limit.
func (s *Server) setupOperationRoutes(authenticate gin.HandlerFunc) {
	for _, op := range s.deps.Table.Operations() {
		limit := middleware.RateLimit(s.deps.Gate, middleware.RouteLimit{
			Path: op.Path,
			Tag:  op.Tag,
			Name: op.Name,
			Tier: op.Tier,
		}, s.deps.Clock, s.deps.Metrics, s.deps.Logger)

		s.router.Handle(op.Method, op.Path, authenticate, limit, handler.Operation(op))
		s.logger.WithFields(logrus.Fields{"method": op.Method, "path": op.Path}).Debug("Registered route")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if s.deps.Redis != nil {
		redisHealthy := true
		if err := s.deps.Redis.Ping(ctx); err != nil {
			redisHealthy = false
			s.logger.WithError(err).Warn("Redis health check failed")
		}
		checks["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}

	if s.deps.Postgres != nil {
		dbHealthy := true
		if err := s.deps.Postgres.Ping(ctx); err != nil {
			dbHealthy = false
			s.logger.WithError(err).Warn("Database health check failed")
		}
		checks["database"] = dbHealthy
		healthy = healthy && dbHealthy
	}

	if s.deps.Health != nil {
		report := s.deps.Health.Report()
		checks["cluster"] = report.Status
		healthy = healthy && report.Status != cluster.Unhealthy
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "velero-api",
		"version":   Version,
		"timestamp": s.deps.Clock.Now().Unix(),
		"checks":    checks,
	})
}

func (s *Server) adminStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server":      "running",
		"environment": s.deps.Config.Server.Environment,
		"operations":  len(s.deps.Table.Operations()),
		"cron_jobs":   s.deps.Jobs.Len(),
		"connections": s.deps.Hub.Count(),
		"uptime":      s.deps.Clock.Since(s.startTime).Seconds(),
		"timestamp":   s.deps.Clock.Now().Unix(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithFields(logrus.Fields{
		"addr":        addr,
		"environment": s.deps.Config.Server.Environment,
	}).Info("Starting velero-api server")

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
