package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-trustgate/internal/config"
	httpserver "github.com/tendant/simple-trustgate/internal/http"
	"github.com/tendant/simple-trustgate/pkg/auth"
	"github.com/tendant/simple-trustgate/pkg/gate"
	"github.com/tendant/simple-trustgate/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	mfaKey, err := cfg.MFAKey()
	if err != nil {
		logger.Error("invalid MFA encryption key", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := repository.NewDB(cfg.Database())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Trust change notifications. Without them decision streams fall back to polling.
	var notifier gate.Notifier
	listener, err := repository.NewTrustListener(cfg.Database().DSN(), cfg.NotifyChannel, logger)
	if err != nil {
		logger.Warn("trust listener unavailable, streams will poll", "error", err)
	} else {
		defer listener.Close()
		notifier = listener
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("trust listener stopped", "error", err)
			}
		}()
		logger.Info("listening for trust changes", "channel", cfg.NotifyChannel)
	}

	// Initialize repositories
	bansRepo := repository.NewBansRepository(db)
	warningsRepo := repository.NewWarningsRepository(db)
	codesRepo := repository.NewMFABackupCodesRepository(db)
	factorsRepo := repository.NewMFAFactorsRepository(db, codesRepo)
	attemptsRepo := repository.NewMFAAttemptsRepository(db)

	// Initialize services
	tokenService := auth.NewTokenService(cfg.Tokens())
	mfaService := auth.NewMFAService(auth.MFAConfig{
		Issuer:        cfg.MFAIssuer,
		EncryptionKey: mfaKey,
		Lockout:       cfg.Lockout(),
	}, factorsRepo, codesRepo, attemptsRepo, logger)
	signInService := auth.NewSignInService(mfaService, tokenService)
	sessionGate := gate.New(cfg.Gate(), bansRepo, warningsRepo, logger)

	// Decision streams are hijacked websockets that Shutdown does not wait for.
	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	// Create router
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:             logger,
		Gate:               sessionGate,
		Notifier:           notifier,
		TokenService:       tokenService,
		MFAService:         mfaService,
		SignInService:      signInService,
		Cookies:            cfg.Cookies(),
		RateLimit:          cfg.RateLimit,
		SecurityHeaders:    cfg.SecurityHeaders,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		ServeMetrics:       true,
		StreamContext:      streamCtx,
	})

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(stopStreams)

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
