package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jcalloway/bastion/internal/auth"
	"github.com/jcalloway/bastion/internal/background"
	"github.com/jcalloway/bastion/internal/config"
	"github.com/jcalloway/bastion/internal/database"
	"github.com/jcalloway/bastion/internal/handlers"
	"github.com/jcalloway/bastion/internal/middleware"
	"github.com/jcalloway/bastion/internal/repositories"
	"github.com/jcalloway/bastion/internal/routes"
	"github.com/jcalloway/bastion/internal/services"
	pkghttp "github.com/jcalloway/bastion/pkg/http"
	pkglogger "github.com/jcalloway/bastion/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(cfg.Server.LogLevel, cfg.Server.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	tokenRepo := repositories.NewRefreshTokenRepository(db)
	mfaRepo := repositories.NewMFARepository(db)
	deviceRepo := repositories.NewTrustedDeviceRepository(db)
	challengeRepo := repositories.NewChallengeRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Crypto managers
	tokenManager := auth.NewTokenManager(cfg.Token.JWTSecret, cfg.Token.AccessTokenLifetime)
	totpManager, err := auth.NewTOTPManager([]byte(cfg.MFA.EncryptionKey), cfg.MFA.Issuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Alert delivery
	var notifier services.AlertNotifier = services.NoopAlertNotifier{}
	if cfg.Alert.Enabled {
		sesNotifier, err := services.NewSESAlertNotifier(cfg.Alert.AWSRegion, cfg.Alert.FromAddress, cfg.Alert.ToAddress, logger)
		if err != nil {
			logger.Error("failed to initialize alert notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}
	dispatcher := services.NewAuditDispatcher(notifier, cfg.Audit.DispatchBuffer, logger)
	defer dispatcher.Close()

	// Services
	auditService := services.NewAuditService(auditRepo, dispatcher, cfg.Audit, logger)
	lockoutService := services.NewLockoutService(accountRepo, attemptRepo, cfg.Lockout, logger)
	tokenService := services.NewTokenService(tokenRepo, accountRepo, tokenManager, auditService, cfg.Token, logger)
	mfaService := services.NewMFAService(mfaRepo, deviceRepo, challengeRepo, accountRepo, totpManager, auditService, cfg.MFA, logger)
	loginService := services.NewLoginService(accountRepo, lockoutService, tokenService, mfaService, auditService, logger)

	// Handlers
	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(loginService, tokenService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(mfaService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(tokenService)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Background cleanup
	cleanupManager := background.NewCleanupManager(
		attemptRepo, tokenRepo, challengeRepo, deviceRepo, auditRepo,
		logger, cfg.Audit.CleanupInterval,
		time.Duration(cfg.Audit.RetentionDays)*24*time.Hour,
	)

	// Router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, sessionHandler, auditHandler, tokenManager)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
