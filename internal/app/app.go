package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/internal/database"
	"github.com/temcen/homerec/internal/handlers"
	"github.com/temcen/homerec/internal/messaging"
	"github.com/temcen/homerec/internal/middleware"
	"github.com/temcen/homerec/internal/services"
	"github.com/temcen/homerec/internal/validation"
	"github.com/temcen/homerec/pkg/models"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *prometheus.Registry
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config:   cfg,
		logger:   setupLogger(cfg),
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	services, err := services.New(cfg, app.logger, db, app.registry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	app.handlers = handlers.New(app.logger, services)

	if err := app.setupRouter(); err != nil {
		return nil, err
	}

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the pass trigger consumer and, when enabled, the scheduler.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.services.MessageBus.ConsumeMessages(ctx, a.handleTrigger)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Pass trigger consumer stopped")
		}
	}()

	if a.services.Scheduler != nil {
		a.services.Scheduler.Start()
	}

	a.logger.Info("Pass runners started")
}

func (a *App) handleTrigger(ctx context.Context, trigger messaging.PassTrigger) error {
	final := trigger.RetryCount >= a.config.Kafka.MaxRetries
	err := a.services.PassRunner.Run(ctx, trigger.JobID, trigger.Kind, final)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidRecord) {
		return messaging.Permanent(err)
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.services.Scheduler != nil {
		a.services.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Timed out waiting for pass runners")
	}

	var errs []error
	if err := a.services.MessageBus.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing message bus")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() error {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return fmt.Errorf("failed to load request schemas: %w", err)
	}
	validate := middleware.NewValidationMiddleware(validator)

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))

	// Health check endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	api.Use(validate.ValidateQueryParams())
	{
		users := api.Group("/users")
		{
			users.GET("/:userId/recommendations", a.handlers.Recommendation.ForUser)
			users.GET("/:userId/similarity/:otherUserId", a.handlers.Similarity.Pair)
		}

		api.GET("/recommendations/popular", a.handlers.Recommendation.Popular)
		api.GET("/properties/:propertyId/similar", a.handlers.Recommendation.SimilarProperties)

		// Pass routes require an admin token
		passes := api.Group("/passes")
		passes.Use(middleware.AdminAuth(a.services.Auth, a.logger))
		if a.services.RateLimiter != nil {
			passes.Use(middleware.RateLimit(a.services.RateLimiter, "passes", a.logger))
		}
		{
			passes.POST("", validate.ValidatePassTrigger(), a.handlers.Pass.Trigger)
			passes.GET("/jobs/:jobId", a.handlers.Pass.GetJob)
			passes.POST("/jobs/:jobId/cancel", a.handlers.Pass.Cancel)
		}
	}

	a.router = router
	return nil
}
