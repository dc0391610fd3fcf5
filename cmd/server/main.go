package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tetrio-api/internal/config"
	"tetrio-api/internal/handlers"
	"tetrio-api/internal/middleware"
	"tetrio-api/internal/telemetry"
	"tetrio-api/pkg/cache"
	"tetrio-api/pkg/client"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Configure logger
	logger, err := setupLogger(&cfg.Logger)
	if err != nil {
		fmt.Printf("Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting TETR.IO API proxy",
		zap.String("version", version),
		zap.String("address", cfg.Server.GetAddress()),
		zap.String("upstream", cfg.Client.BaseURL),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	// Initialize cache
	backend, err := cache.New(&cfg.Cache, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	// Metrics
	tel, err := telemetry.New()
	if err != nil {
		logger.Fatal("Failed to initialize metrics", zap.Error(err))
	}

	// API client
	apiClient, err := client.New(client.Options{
		BaseURL:       cfg.Client.BaseURL,
		Interval:      cfg.Client.Interval,
		UserAgent:     cfg.Client.UserAgent,
		Backend:       backend,
		Coalesce:      cfg.Client.Coalesce,
		Logger:        logger.Named("client"),
		MeterProvider: tel.MeterProvider(),
	})
	if err != nil {
		logger.Fatal("Failed to initialize API client", zap.Error(err))
	}

	// Configure Gin
	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middlewares
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	proxyHandler := handlers.NewProxyHandler(apiClient, logger)

	// Health routes
	router.GET("/health", proxyHandler.Health)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(tel.Handler()))
	}

	// Proxy routes
	proxyHandler.Register(router.Group("/api/v1"))

	// Configure HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to shut down metrics", zap.Error(err))
	}

	logger.Info("Server exited")
}

// setupLogger configures the logger according to the configuration
func setupLogger(cfg *config.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: cfg.Format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{cfg.OutputPath},
		ErrorOutputPaths: []string{cfg.OutputPath},
	}

	return config.Build()
}
