package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitesage/sitesage/internal/coord"
	"github.com/sitesage/sitesage/internal/lock"
	"github.com/sitesage/sitesage/internal/ratelimit"
	"github.com/sitesage/sitesage/pkg/config"
	"github.com/sitesage/sitesage/pkg/errors"
	"github.com/sitesage/sitesage/pkg/health"
	"github.com/sitesage/sitesage/pkg/logging"
	"github.com/sitesage/sitesage/pkg/metrics"
	"github.com/sitesage/sitesage/pkg/resilience"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "sitesage-api",
		Version:     os.Getenv("APP_VERSION"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize the coordination store. An unreachable store is not fatal:
	// rate limiting degrades to per-instance counting and locking refuses
	// work per configuration.
	var redisClient *coord.RedisClient
	redisClient, err = coord.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.LogDegradedMode(context.Background(), "coord", err.Error())
		redisClient = nil
	} else {
		defer redisClient.Close()
		logger.Info("Coordination store connection established",
			"addr", cfg.RedisAddr(),
		)
	}

	// Initialize metrics
	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Initialize health checks. The coordination store being down is
	// degraded, not unhealthy: the process keeps serving from its fallback
	// stores, and readiness must not pull every instance during an outage.
	healthService := health.NewService(logger, health.DefaultConfig())
	healthService.RegisterChecker("redis", health.NewCustomChecker("redis",
		func(ctx context.Context) (health.Status, string, error) {
			if redisClient == nil {
				return health.StatusDegraded, "coordination store not connected, serving from process-local fallback", nil
			}
			if err := redisClient.Health(ctx); err != nil {
				return health.StatusDegraded, "coordination store unreachable, serving from process-local fallback", nil
			}
			return health.StatusHealthy, "coordination store reachable", nil
		}))

	// Circuit breaker registry and external call executor
	registry := resilience.NewRegistry(resilience.Config{
		Enabled:          cfg.Breaker.Enabled,
		FailMax:          cfg.Breaker.FailMax,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})
	executor := resilience.NewExecutor(registry, cfg.Executor.DefaultTimeout, m)

	// Rate limiter
	var sharedStore ratelimit.CounterStore
	if redisClient != nil {
		sharedStore = ratelimit.NewRedisStore(redisClient)
	}
	limiter := ratelimit.NewLimiter(sharedStore, m)
	healthService.RegisterChecker("ratelimit", health.NewCustomChecker("ratelimit",
		func(ctx context.Context) (health.Status, string, error) {
			if limiter.Degraded() {
				return health.StatusDegraded, "serving from memory fallback", nil
			}
			return health.StatusHealthy, "shared store", nil
		}))

	// Distributed lock manager
	lockManager := lock.NewManager(redisClient, lock.Config{
		AllowLocalFallback: cfg.Lock.AllowLocalFallback,
		TTL:                cfg.Lock.TTL,
	}, m)

	router := setupRouter(cfg, logger, healthService, limiter, lockManager, executor)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

func setupRouter(
	cfg *config.Config,
	logger *logging.Logger,
	healthService *health.Service,
	limiter *ratelimit.Limiter,
	lockManager *lock.Manager,
	executor *resilience.Executor,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", healthService.Handler())
	router.GET("/healthz", healthService.LivenessHandler())
	router.GET("/readyz", healthService.ReadinessHandler())
	router.GET("/metrics", metrics.Handler())

	api := router.Group("/api/v1")
	api.Use(ratelimit.Middleware(limiter, cfg.RateLimit))
	{
		api.GET("/breakers", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"breakers": executor.States()})
		})

		// Report generation takes the per-site lock so concurrent requests
		// cannot produce duplicate reports.
		reports := api.Group("/sites/:site/reports")
		reports.Use(ratelimit.SetEndpointClass("reports"))
		reports.POST("", generateReport(lockManager, executor, newAnalysisRetrier()))
	}

	return router
}

// newAnalysisRetrier retries transient analysis failures. Breaker and rate
// limit rejections are not retried; the defaults already classify those.
func newAnalysisRetrier() *resilience.Retrier {
	config := resilience.DefaultRetryConfig()
	config.MaxAttempts = 2
	config.InitialDelay = 200 * time.Millisecond
	return resilience.NewRetrier(config)
}

func generateReport(lockManager *lock.Manager, executor *resilience.Executor, retrier *resilience.Retrier) gin.HandlerFunc {
	return func(c *gin.Context) {
		site := c.Param("site")

		var analysis interface{}
		err := lockManager.WithLock(c.Request.Context(), "report:"+site, func(ctx context.Context) error {
			// Analysis is idempotent, so a transient upstream failure is
			// worth one more attempt before the request fails.
			result, callErr := retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
				return executor.Do(ctx, "pagespeed", func(ctx context.Context) (interface{}, error) {
					return analyzeSite(ctx, site)
				})
			})
			if callErr != nil {
				return callErr
			}
			analysis = result
			return nil
		})

		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"site": site, "report": analysis})
		case errors.IsLockHeld(err):
			c.JSON(http.StatusConflict, gin.H{"error": "a report for this site is already being generated"})
		case errors.IsLockUnavailable(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report generation is temporarily unavailable"})
		case errors.IsCircuitOpen(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis backend is unavailable"})
		case errors.IsTimeout(err):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "analysis timed out"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "analysis failed"})
		}
	}
}

// analyzeSite stands in for the PageSpeed-backed analysis pipeline.
func analyzeSite(ctx context.Context, site string) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return gin.H{
		"site":      site,
		"generated": time.Now().UTC(),
		"scores":    gin.H{"performance": 92, "seo": 88, "accessibility": 95},
	}, nil
}

func requestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogRequest(c.Request.Context(), c.Request.Method, c.Request.URL.Path,
			c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}
