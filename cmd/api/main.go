package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/basego/server/internal/account"
	"github.com/basego/server/internal/auth"
	"github.com/basego/server/internal/cache"
	"github.com/basego/server/internal/config"
	"github.com/basego/server/internal/db"
	httphandler "github.com/basego/server/internal/http"
	"github.com/basego/server/internal/http/handlers"
	"github.com/basego/server/internal/logger"
	"github.com/basego/server/internal/mailer"
	"github.com/basego/server/internal/middleware"
	"github.com/basego/server/internal/repo"
)

const (
	cacheTTL        = time.Hour
	rateLimitWindow = 10 * time.Minute
	rateLimitMax    = 20
	devOTPCode      = "123456"
)

func main() {
	// Env vars already set take precedence over .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	accounts := repo.NewAccountRepo(database)
	apiKeys := repo.NewAPIKeyRepo(database)
	reference := repo.NewReferenceRepo(database)

	var limiter middleware.Limiter
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		apiKeys = cache.NewAPIKeyRepo(apiKeys, rdb, cacheTTL, log)
		reference = cache.NewReferenceRepo(reference, rdb, cacheTTL, log)
		limiter = cache.NewFixedWindowLimiter(rdb, "ip", rateLimitWindow, rateLimitMax)
		log.Info("redis cache enabled")
	} else {
		mem := middleware.NewMemoryLimiter(rateLimitWindow, rateLimitMax)
		defer mem.Stop()
		limiter = mem
	}

	var sender auth.CodeSender
	var otpOpts []auth.OTPOption
	switch {
	case cfg.SMTP.Enabled():
		sender = mailer.NewSMTPMailer(cfg.SMTP, cfg.FrontendURL, accounts, log)
	case cfg.DevMode:
		sender = mailer.NewLogSender(log)
	default:
		log.Fatal("SMTP_HOST is required unless DEV_MODE=true")
	}
	if cfg.DevMode {
		log.Warn("dev mode: every verification code is " + devOTPCode)
		otpOpts = append(otpOpts, auth.WithFixedCode(devOTPCode))
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, repo.NewTokenRepo(database), accounts,
		auth.WithTTL(cfg.AccessTokenTTL, cfg.RefreshTokenTTL))
	sessions := auth.NewSessionAuthority(accounts, repo.NewSessionRepo(database), tokens, log)
	otp := auth.NewOTPEngine(repo.NewOtpRepo(database), sender, cfg.OTPSalt, log, otpOpts...)
	accountService := account.NewService(accounts, reference, otp, log)

	var origins []string
	if cfg.FrontendURL != "" {
		origins = []string{cfg.FrontendURL}
	}
	router := httphandler.NewRouter(httphandler.Handlers{
		Client:  handlers.NewClientHandler(accountService),
		Auth:    handlers.NewAuthHandler(sessions, tokens),
		Account: handlers.NewAccountHandler(accountService, sessions),
		Health:  handlers.NewHealthHandler(database),
	}, httphandler.Options{
		Log:            log,
		APIKeys:        auth.NewAPIKeyValidator(apiKeys, nil),
		Authorizer:     sessions,
		Limiter:        limiter,
		AllowedOrigins: origins,
		TrustProxy:     cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return
	}
	log.Info("server exited")
}
