package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/audit"
	"github.com/shepherd-cms/identity/internal/config"
	"github.com/shepherd-cms/identity/internal/handler"
	"github.com/shepherd-cms/identity/internal/notifier"
	"github.com/shepherd-cms/identity/internal/obs"
	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/internal/service"
	"github.com/shepherd-cms/identity/pkg/fieldcrypt"
	tokenpkg "github.com/shepherd-cms/identity/pkg/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("service", "identity-service").
		Logger()

	obs.Init()

	// Initialize database connection
	log.Info().Msg("Connecting to database")
	dbPool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize crypto
	cipher, err := fieldcrypt.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize field encryption")
	}
	tokenManager, err := tokenpkg.NewManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token manager")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool, log)
	tokenRepo := repository.NewTokenRepository(dbPool, log)
	auditRepo := repository.NewAuditRepository(dbPool, log)

	auditDispatcher := audit.NewDispatcher(auditRepo, cfg.AuditBufferSize, log)
	mailer := notifier.NewLogNotifier(cfg.FrontendURL, cfg.AdminEmail, log)

	// Initialize services
	authService := service.NewAuthService(userRepo, tokenRepo, tokenManager, cipher, cfg.MFAIssuer, log)
	registrationService := service.NewRegistrationService(userRepo, tokenRepo, mailer, cipher, log)
	userService := service.NewUserService(userRepo, cipher, log)

	// Initialize handler
	httpHandler := handler.NewHTTPHandler(authService, registrationService, userService, tokenManager, auditDispatcher, log)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Flush buffered audit entries before the pool closes.
	auditDispatcher.Close()

	log.Info().Msg("Server stopped")
}
