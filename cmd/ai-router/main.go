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
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tributary-ai/ai-task-router/internal/auth"
	"github.com/tributary-ai/ai-task-router/internal/config"
	"github.com/tributary-ai/ai-task-router/internal/failover"
	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/providers/anthropic"
	"github.com/tributary-ai/ai-task-router/internal/providers/httpjson"
	"github.com/tributary-ai/ai-task-router/internal/providers/openai"
	"github.com/tributary-ai/ai-task-router/internal/quota"
	"github.com/tributary-ai/ai-task-router/internal/routing"
	"github.com/tributary-ai/ai-task-router/internal/server"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

var version = "dev"

// Application represents the main application
type Application struct {
	config *config.Config
	engine *routing.Engine
	server *server.Server
	logger *logrus.Logger
	closer io.Closer
}

// NewApplication creates a new application instance
func NewApplication(configPath, envFile string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	closer, err := setupLogger(logger, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	registry := buildRegistry(cfg, logger)

	engine, err := routing.NewEngine(
		cfg.ToCatalog(),
		quota.NewManager(cfg.ToQuotaConfig(), logger),
		failover.NewManager(cfg.ToFailoverConfig(), logger),
		registry,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing engine: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"providers": cfg.GetEnabledProviders(),
		"config":    cfg.String(),
	}).Info("Routing engine ready")

	srv := server.NewServer(engine, registry, cfg.ToServerConfig(), logger)
	if cfg.Auth.RequireAuth {
		srv.Use(auth.NewAuthenticator(&cfg.Auth, logger).Middleware)
	}

	return &Application{
		config: cfg,
		engine: engine,
		server: srv,
		logger: logger,
		closer: closer,
	}, nil
}

// Run starts the application and blocks until shutdown
func (app *Application) Run() error {
	app.logger.WithField("version", version).Info("Starting AI task router")
	defer app.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

func (app *Application) close() {
	if app.closer != nil {
		app.closer.Close()
	}
}

// setupLogger configures the logger based on configuration. The returned
// closer is non-nil when logs go to a rotated file.
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(file)
		return file, nil
	}

	return nil, nil
}

// buildRegistry wires one transport per kind
func buildRegistry(cfg *config.Config, logger *logrus.Logger) *providers.Registry {
	httpClient := &http.Client{}

	registry := providers.NewRegistry(cfg.Router.AttemptTimeout, logger)
	registry.RegisterKind(types.TransportOpenAI, openai.NewTransport(logger).WithHTTPClient(httpClient))
	registry.RegisterKind(types.TransportAnthropic, anthropic.NewTransport(logger))
	registry.RegisterKind(types.TransportHTTP, httpjson.NewTransport(httpClient, logger))
	return registry
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	pflag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_PORT        Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_LOG_LEVEL   Log level (debug,info,warn,error)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_LOG_FORMAT  Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_TIMEZONE    Time zone of the quota day (default: UTC)\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_API_KEYS    Comma separated client API keys\n")
	fmt.Fprintf(os.Stderr, "  AI_ROUTER_JWT_SECRET  HS256 secret for bearer tokens\n")
	fmt.Fprintf(os.Stderr, "\nProvider keys are read from the variables named by api_key_env.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -c configs/config.yaml --env-file .env.local\n", os.Args[0])
}

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
		envFile     = pflag.String("env-file", ".env", "Optional dotenv file loaded before the config")
		showHelp    = pflag.BoolP("help", "h", false, "Show help message")
		showVersion = pflag.Bool("version", false, "Show version information")
	)
	pflag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("ai-router %s\n", version)
		os.Exit(0)
	}

	app, err := NewApplication(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
