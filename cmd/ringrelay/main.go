package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ringrelay/internal/auth"
	"ringrelay/internal/config"
	"ringrelay/internal/constants"
	"ringrelay/internal/database"
	"ringrelay/internal/hub"
	"ringrelay/internal/media"
	"ringrelay/internal/models"
	"ringrelay/internal/presence"
	"ringrelay/internal/retry"
	"ringrelay/internal/service"
	"ringrelay/internal/tracing"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes request headers and bodies)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ringrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting ringrelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewManager(cfg.Tracing, cfg.Environment, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	cipher, err := database.NewMessageCipher(cfg.Encryption.MessageSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize message encryption: %w", err)
	}

	startup := startupBackoff(cfg.Retry, logger)

	var db *database.Database
	err = startup(ctx, "database", func(context.Context) error {
		var initErr error
		db, initErr = database.New(cfg.Database, cipher)
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.CookieName)
	if err != nil {
		return fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	realtime := hub.New(hub.Config{
		SendBufferSize: cfg.Realtime.SendBufferSize,
		MaxFrameBytes:  cfg.Realtime.MaxFrameBytes,
		WriteTimeout:   time.Duration(cfg.Realtime.WriteTimeoutSec) * time.Second,
		PingInterval:   time.Duration(cfg.Realtime.PingIntervalSec) * time.Second,
		OriginPatterns: cfg.Server.AllowedOrigins,
		SessionContext: func(ctx context.Context) context.Context {
			return service.WithVerbose(ctx, *verbose)
		},
	}, logger)

	var registryOpts []presence.Option
	if cfg.Presence.ValkeyAddr != "" {
		var mirror *presence.ValkeyMirror
		err := startup(ctx, "presence mirror", func(context.Context) error {
			var initErr error
			mirror, initErr = presence.NewValkeyMirror(cfg.Presence.ValkeyAddr, cfg.Presence.ValkeyPassword, cfg.Presence.KeyPrefix, cfg.Presence.InstanceID)
			return initErr
		})
		if err != nil {
			return fmt.Errorf("failed to connect presence mirror: %w", err)
		}
		registryOpts = append(registryOpts, presence.WithMirror(mirror))
		logger.WithField("instance", cfg.Presence.InstanceID).Info("Cluster presence mirror enabled")
	}
	registry := presence.NewRegistry(realtime, logger, registryOpts...)

	timeout := cfg.Calls.PersistenceTimeout()
	relay := service.NewRelay(registry, realtime)

	var messageOpts []service.MessageOption
	if cfg.Media.Enabled() {
		var store *media.Store
		err := startup(ctx, "media store", func(ctx context.Context) error {
			var initErr error
			store, initErr = media.NewStore(ctx, cfg.Media, logger)
			return initErr
		})
		if err != nil {
			return fmt.Errorf("failed to initialize media store: %w", err)
		}
		messageOpts = append(messageOpts, service.WithImageUploader(store))
		logger.WithField("bucket", cfg.Media.Bucket).Info("Inline message images enabled")
	}

	messages := service.NewMessageService(db, relay, logger, timeout, messageOpts...)
	calls := service.NewCallService(db, relay, service.NewCallLogSync(db, relay, logger), logger, timeout)
	friends := service.NewFriendService(db, logger, timeout)
	registry.OnConnect(messages.OnConnect)

	realtime.SetDispatcher(service.NewGateway(db, registry, calls, messages, service.NewTypingRelay(relay), logger, timeout))

	server, err := NewServer(cfg, Services{
		Messages: messages,
		Calls:    calls,
		Friends:  friends,
		Presence: registry,
		Health:   db,
	}, verifier, realtime.Handler(verifier), logger, *verbose)
	if err != nil {
		return err
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by the HTTP server, so
	// the hub is closed separately before presence is torn down.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	logger.WithField("sessions", realtime.SessionCount()).Info("Closing realtime sessions")
	if err := realtime.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Realtime sessions did not close in time")
	}
	registry.Close(shutdownCtx)

	logger.Info("Server shutdown completed")
	return nil
}

func configureLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - request details will be logged")
		return
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

type startupFunc func(ctx context.Context, component string, op func(context.Context) error) error

// startupBackoff retries connecting to a dependency that may still be coming up
func startupBackoff(cfg models.RetryConfig, logger *logrus.Logger) startupFunc {
	return func(ctx context.Context, component string, op func(context.Context) error) error {
		b := retry.NewBackoff(retry.FromConfig(cfg), retry.OnRetry(func(attempt int, delay time.Duration, err error) {
			logger.WithFields(logrus.Fields{
				service.LogFieldComponent: component,
				"attempt":                 attempt,
				"retry_in_ms":             delay.Milliseconds(),
			}).WithError(err).Warn("Dependency not ready, retrying")
		}))
		return b.Retry(ctx, op)
	}
}
