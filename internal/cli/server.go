package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/bus"
	"github.com/aman-churiwal/velero-api/internal/circuitbreaker"
	"github.com/aman-churiwal/velero-api/internal/cluster"
	"github.com/aman-churiwal/velero-api/internal/config"
	"github.com/aman-churiwal/velero-api/internal/hub"
	"github.com/aman-churiwal/velero-api/internal/metrics"
	"github.com/aman-churiwal/velero-api/internal/middleware"
	"github.com/aman-churiwal/velero-api/internal/operation"
	"github.com/aman-churiwal/velero-api/internal/ratelimit"
	"github.com/aman-churiwal/velero-api/internal/repository"
	"github.com/aman-churiwal/velero-api/internal/scheduler"
	"github.com/aman-churiwal/velero-api/internal/server"
	"github.com/aman-churiwal/velero-api/internal/service"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

const (
	sweepSpec       = "@every 1m"
	retentionSpec   = "@daily"
	shutdownTimeout = 5 * time.Second
)

func newServerCommand(o *globalOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "server",
		Short: "Run the API server, the refresh scheduler and the bus relay",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			logger := o.logger()

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, o.config, logger)
		},
	}

	bindServerFlags(c.Flags(), o.config)
	return c
}

func bindServerFlags(flags *pflag.FlagSet, cfg *config.Config) {
	flags.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Port the HTTP server listens on")
	flags.StringVar(&cfg.Cluster.Kubeconfig, "kubeconfig", cfg.Cluster.Kubeconfig, "Path to the kubeconfig file. Defaults to in-cluster configuration")
	flags.StringVar(&cfg.Cluster.Namespace, "namespace", cfg.Cluster.Namespace, "Namespace Velero is installed in")
	flags.BoolVar(&cfg.Bus.Enabled, "bus", cfg.Bus.Enabled, "Serve operation requests on the Redis bus")
}

func runServer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens, err := newTokenService(cfg, logger)
	if err != nil {
		return err
	}

	serverMetrics := metrics.NewServerMetrics()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := serverMetrics.RegisterAllMetrics(promRegistry); err != nil {
		return errors.Wrap(err, "error registering metrics")
	}

	clients, err := cluster.NewClients(cfg.Cluster.Kubeconfig, cfg.Cluster.QPS, cfg.Cluster.Burst)
	if err != nil {
		return err
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      "cluster",
		IsFailure: cluster.IsUpstreamFailure,
		Logger:    logger,
	})
	store := cluster.NewStore(clients.Kubebuilder, clients.Kube, cfg.Cluster.Namespace, breaker, logger)
	health := cluster.NewHealthChecker(clients.Kube, cluster.HealthConfig{Logger: logger})
	health.Start()
	defer health.Stop()

	table := operation.NewTable()
	if err := operation.RegisterVelero(table, store, health); err != nil {
		return err
	}

	var redis *storage.RedisClient
	if cfg.RateLimit.Backend == "redis" {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return errors.Wrap(err, "failed to connect to Redis")
		}
		defer redis.Close()
		logger.Info("Connected to redis successfully")
	}

	registry := ratelimit.LoadRegistry(os.LookupEnv)
	var factory *ratelimit.Factory
	if redis != nil {
		factory = ratelimit.NewRedisFactory(redis, clock.RealClock{}, cfg.RateLimit.Algorithm)
	} else {
		factory = ratelimit.NewMemoryFactory(clock.RealClock{}, cfg.RateLimit.Algorithm)
	}
	gate := ratelimit.NewGate(registry, factory)

	manager := hub.NewConnectionManager(hub.Options{
		EvictAfterFailures: cfg.WebSocket.EvictAfterFailures,
		WriteTimeout:       cfg.WebSocket.WriteTimeout,
		Metrics:            serverMetrics,
		Logger:             logger,
	})

	publishers := []scheduler.Publisher{
		scheduler.PublisherFunc(func(_ context.Context, msg []byte) error {
			manager.Broadcast(msg)
			return nil
		}),
	}

	var relay *bus.Relay
	if cfg.Bus.Enabled {
		relay = bus.NewRelay(bus.RedisDialer(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB), table, tokens, bus.Options{
			Subject: cfg.Bus.Subject,
			Metrics: serverMetrics,
			Logger:  logger,
		})
		if err := relay.Start(ctx); err != nil {
			return err
		}
		defer func() {
			cancel()
			relay.Wait()
			relay.Close()
		}()
		publishers = append(publishers, scheduler.PublisherFunc(relay.PublishGlobalEvent))
	}

	jobs := scheduler.NewRegistry(logger)
	for _, job := range cfg.Scheduler.Jobs {
		if jobs.Register(job.Endpoint, job.CredentialRequired, job.IntervalSeconds) {
			serverMetrics.InitJob(job.Endpoint)
		}
	}
	sched := scheduler.New(jobs, table, publishers, scheduler.Options{
		Timeout: cfg.Scheduler.JobTimeout,
		Metrics: serverMetrics,
		Logger:  logger,
	})

	cronRunner := cron.New()
	if _, err := sched.Schedule(ctx, cronRunner); err != nil {
		return errors.Wrap(err, "error scheduling refresh jobs")
	}
	if _, err := cronRunner.AddFunc(sweepSpec, func() {
		if n := gate.Sweep(); n > 0 {
			logger.WithField("removed", n).Debug("Swept idle rate limit entries")
		}
	}); err != nil {
		return errors.Wrap(err, "error scheduling rate limit sweep")
	}

	deps := server.Dependencies{
		Config:   cfg,
		Table:    table,
		Gate:     gate,
		Tokens:   tokens,
		Hub:      manager,
		Jobs:     jobs,
		Breakers: map[string]*circuitbreaker.CircuitBreaker{"cluster": breaker},
		Health:   health,
		Redis:    redis,
		Metrics:  serverMetrics,
		Gatherer: promRegistry,
		Logger:   logger,
	}

	if cfg.Database.URL != "" {
		db, err := storage.NewPostgres(cfg.Database.URL)
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		defer db.Close()
		if err := db.AutoMigrate(); err != nil {
			return errors.Wrap(err, "failed to migrate database")
		}

		repo := repository.NewRequestLogRepository(db)
		requestLogger := middleware.NewRequestLogger(repo, middleware.RequestLoggerOptions{Logger: logger})
		requestLogger.Start(ctx)
		defer func() {
			cancel()
			requestLogger.Wait()
		}()

		if _, err := cronRunner.AddFunc(retentionSpec, func() {
			before := time.Now().AddDate(0, 0, -cfg.Database.RetentionDays)
			deleted, err := repo.DeleteOldLogs(ctx, before)
			if err != nil {
				logger.WithError(err).Error("Failed to delete old request logs")
				return
			}
			logger.WithField("deleted", deleted).Info("Deleted old request logs")
		}); err != nil {
			return errors.Wrap(err, "error scheduling log retention")
		}

		deps.Postgres = db
		deps.RequestLogger = requestLogger
		deps.Analytics = service.NewAnalyticsService(repo)
	}

	cronRunner.Start()
	defer func() {
		cancel()
		<-cronRunner.Stop().Done()
		sched.Wait()
	}()

	srv := server.New(deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	logger.Info("Server exited")
	return nil
}

// newTokenService falls back to a random secret, which invalidates every
// token on restart.
func newTokenService(cfg *config.Config, logger logrus.FieldLogger) (*auth.TokenService, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		var err error
		if secret, err = auth.RandomSecret(); err != nil {
			return nil, err
		}
		logger.Warn("JWT_SECRET is not set, using a random secret. Tokens will not survive a restart")
	}
	return auth.NewTokenService(secret, cfg.Auth.JWTExpiryHours), nil
}
