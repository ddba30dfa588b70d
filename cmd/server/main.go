package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/config"
	"github.com/ksred/daytrader-api/internal/database"
	"github.com/ksred/daytrader-api/internal/health"
	"github.com/ksred/daytrader-api/internal/ledger"
	"github.com/ksred/daytrader-api/internal/metrics"
	"github.com/ksred/daytrader-api/internal/quote"
	"github.com/ksred/daytrader-api/internal/trading"
	"github.com/ksred/daytrader-api/internal/triggers"
	"github.com/ksred/daytrader-api/pkg/middleware"
)

// configureLogging sets up the global logger. Outside production it enables
// pretty printing with timestamps.
func configureLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	zlog.Logger = zlog.Logger.With().Str("service", cfg.App.ServiceName).Logger()

	// Set global log level
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// main initializes and runs the day trading server with graceful shutdown support
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	ready := health.NewManager(false)
	ready.AddCheck("database", func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	auditSink, err := newAuditSink(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize audit sink")
	}
	auditLog := audit.New(cfg.App.ServiceName, audit.NewAsyncSink(auditSink, cfg.Audit.BufferSize, func(e audit.Event) {
		m.IncAuditDropped()
	}))

	var redisClient *redis.Client
	var cache quote.Cache
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = quote.NewRedisCache(redisClient, cfg.Quote.CacheTTL)
		ready.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var oracle quote.Oracle = quote.NewFakeOracle()
	if cfg.Quote.Mode == "tcp" {
		oracle = quote.NewTCPOracle(cfg.Quote.Addr, cfg.Quote.Timeout)
	}

	// Initialize services and handlers
	quoteService := quote.NewService(oracle, cache, auditLog, m)
	quoteHandlers := quote.NewGinHandlers(quoteService)

	ledgerService := ledger.NewService(db, auditLog)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	tradingService := trading.NewService(db, quoteService, auditLog,
		trading.WithReservationTTL(cfg.Trading.ReservationTTL),
		trading.WithMetrics(m),
	)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	triggerService := triggers.NewService(db, auditLog, m)
	triggerHandlers := triggers.NewGinHandlers(triggerService)
	quoteService.Subscribe(triggers.NewEvaluator(db, auditLog, m))

	// Create and start trigger processor
	triggerProcessor := triggers.NewProcessor(db, quoteService, tradingService, cfg.Triggers.SweepInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go triggerProcessor.Start(processorCtx)

	limiter := middleware.NewLimiter(cfg.RateLimit)
	go limiter.RunCleanup(processorCtx.Done())

	// Initialize router
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(m),
		middleware.Recovery(),
		middleware.TransactionNum(),
		middleware.RateLimit(limiter),
	)

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	// Setup API routes
	setupRoutes(router, ledgerHandlers, quoteHandlers, tradingHandlers, triggerHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	ready.SetReady(true)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	ready.SetReady(false)

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	processorCancel()
	if err := auditLog.Close(); err != nil {
		zlog.Error().Err(err).Msg("Failed to flush audit log")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			zlog.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if err := database.Close(db); err != nil {
		zlog.Error().Err(err).Msg("Failed to close database")
	}

	zlog.Info().Msg("Server exiting")
}

// newAuditSink publishes to Kafka when enabled and to the log otherwise
func newAuditSink(cfg *config.Config) (audit.Sink, error) {
	if cfg.Kafka.Enabled {
		return audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	return audit.NewLogSink(zlog.With().Str("component", "audit").Logger()), nil
}

// setupRoutes configures all API endpoints and their handlers
// Parameters:
//   - router: The main Gin router instance
//   - ledgerHandlers: Handlers for accounts and funds
//   - quoteHandlers: Handlers for quotes
//   - tradingHandlers: Handlers for the buy and sell protocol
//   - triggerHandlers: Handlers for buy and sell triggers
func setupRoutes(
	router *gin.Engine,
	ledgerHandlers *ledger.GinHandlers,
	quoteHandlers *quote.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	triggerHandlers *triggers.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		v1.GET("/quotes/:symbol", quoteHandlers.GetQuoteHandler())
		v1.POST("/users", ledgerHandlers.CreateUserHandler())

		users := v1.Group("/users/:user_id")
		{
			users.GET("", ledgerHandlers.GetUserHandler())
			users.POST("/funds", ledgerHandlers.AddFundsHandler())

			users.POST("/buy", tradingHandlers.BuyHandler())
			users.POST("/buy/commit", tradingHandlers.CommitBuyHandler())
			users.POST("/buy/cancel", tradingHandlers.CancelBuyHandler())
			users.POST("/sell", tradingHandlers.SellHandler())
			users.POST("/sell/commit", tradingHandlers.CommitSellHandler())
			users.POST("/sell/cancel", tradingHandlers.CancelSellHandler())

			users.POST("/triggers/buy/amount", triggerHandlers.SetBuyAmountHandler())
			users.POST("/triggers/buy", triggerHandlers.SetBuyTriggerHandler())
			users.DELETE("/triggers/buy/:symbol", triggerHandlers.CancelSetBuyHandler())
			users.POST("/triggers/sell/amount", triggerHandlers.SetSellAmountHandler())
			users.POST("/triggers/sell", triggerHandlers.SetSellTriggerHandler())
			users.DELETE("/triggers/sell/:symbol", triggerHandlers.CancelSetSellHandler())
		}
	}
}
