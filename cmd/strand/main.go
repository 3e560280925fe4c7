package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/strandlabs/strand/internal/application/executor"
	"github.com/strandlabs/strand/internal/application/monitor"
	"github.com/strandlabs/strand/internal/application/node"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
	"github.com/strandlabs/strand/pkg/adapters/debug"
	eventsmemory "github.com/strandlabs/strand/pkg/adapters/events/memory"
	eventsredis "github.com/strandlabs/strand/pkg/adapters/events/redis"
	"github.com/strandlabs/strand/pkg/adapters/llm"
	"github.com/strandlabs/strand/pkg/adapters/metrics/prometheus"
	filestorage "github.com/strandlabs/strand/pkg/adapters/storage/file"
	redisstorage "github.com/strandlabs/strand/pkg/adapters/storage/redis"
	"github.com/strandlabs/strand/pkg/adapters/tools"
	"github.com/strandlabs/strand/pkg/api/grpc"
	"github.com/strandlabs/strand/pkg/api/http"
	"github.com/strandlabs/strand/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting strand runtime",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	metricsCollector := prometheus.NewCollector()
	eventBus := eventsmemory.NewBus(logger, metricsCollector)

	// Durable session store
	var store ports.SessionStore
	var redisClient *goredis.Client
	switch cfg.Store.Backend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		store = redisstorage.NewStore(redisClient, 0, logger)

		// Mirror lifecycle events to Redis Streams for external consumers.
		mirror, err := eventsredis.NewStreamsMirror(
			redisClient,
			"strand-consumers",
			fmt.Sprintf("strand-%d", os.Getpid()),
			logger,
		)
		if err != nil {
			logger.Fatal("failed to create event mirror", zap.Error(err))
		}
		if _, err := mirror.Attach(eventBus, domain.AllEventTypes()); err != nil {
			logger.Fatal("failed to attach event mirror", zap.Error(err))
		}
	default:
		fileStore, err := filestorage.NewStore(cfg.Store.DataDir, logger)
		if err != nil {
			logger.Fatal("failed to open session store", zap.Error(err))
		}
		store = fileStore
	}

	llmProvider, err := llm.NewProvider(&llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to create LLM provider", zap.Error(err))
	}

	toolRegistry := tools.NewRegistry(logger, cfg.LLM.MaxRetries)

	var sink ports.DebugSink
	if cfg.Debug.Enabled {
		fileSink, err := debug.NewFileSink(cfg.Debug.Path, logger)
		if err != nil {
			logger.Fatal("failed to open debug sink", zap.Error(err))
		}
		sink = fileSink
		defer fileSink.Close()
	}

	nodeExecutor := node.NewExecutor(
		llmProvider,
		toolRegistry,
		eventBus,
		metricsCollector,
		sink,
		logger,
		node.Config{
			Model:          cfg.LLM.DefaultModel,
			MaxTokens:      cfg.LLM.DefaultMaxTokens,
			Temperature:    cfg.LLM.DefaultTemperature,
			StreamRetries:  cfg.LLM.MaxRetries,
			RequestTimeout: cfg.LLM.RequestTimeout,
			ToolTimeout:    cfg.Timeouts.ToolCallTimeout,
		},
	)

	validator := executor.NewValidator()

	manager := executor.NewManager(
		eventBus,
		store,
		metricsCollector,
		validator,
		nodeExecutor,
		logger,
		domain.LoopConfig{
			MaxIterations:       cfg.Loop.MaxIterations,
			MaxToolCallsPerTurn: cfg.Loop.MaxToolCallsPerTurn,
			MaxHistoryTokens:    cfg.Loop.MaxHistoryTokens,
		},
	)

	// Health monitor and triage
	var healthMonitor *monitor.Monitor
	var triage *monitor.Triage
	if cfg.Monitor.Enabled {
		healthMonitor = monitor.NewMonitor(store, eventBus, metricsCollector, logger, monitor.Config{
			Interval:       cfg.Monitor.Interval,
			VerdictWindow:  cfg.Monitor.VerdictWindow,
			StallThreshold: cfg.Monitor.StallThreshold,
		})
		// The monitor maintains its own watch set from lifecycle events.
		healthMonitor.Start()

		triage = monitor.NewTriage(eventBus, logger, domain.SeverityMedium)
		if err := triage.Start(); err != nil {
			logger.Fatal("failed to start triage", zap.Error(err))
		}
	}

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:              cfg.HTTPPort,
		Manager:           manager,
		Bus:               eventBus,
		Logger:            logger,
		KeepaliveInterval: cfg.Timeouts.KeepaliveInterval,
	})

	wsHandler := websocket.NewHandler(eventBus, logger, cfg.Timeouts.KeepaliveInterval)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:    cfg.GRPCPort,
		Manager: manager,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("strand runtime started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("store", cfg.Store.Backend))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if cfg.Monitor.Enabled {
		triage.Stop()
		healthMonitor.Stop()
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("strand runtime shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
