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

	"github.com/labbooking/server/internal/auth"
	"github.com/labbooking/server/internal/config"
	"github.com/labbooking/server/internal/db"
	httphandler "github.com/labbooking/server/internal/http"
	"github.com/labbooking/server/internal/http/handlers"
	"github.com/labbooking/server/internal/logging"
	"github.com/labbooking/server/internal/model"
	"github.com/labbooking/server/internal/notify"
	"github.com/labbooking/server/internal/repo"
	"github.com/labbooking/server/internal/sms"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "text", "info").Error(context.Background(), "failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger) error {
	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	// OTP store: Redis when configured (native key expiry), PostgreSQL otherwise
	otpRepo := repo.NewOtpRepo(database)
	if cfg.RedisURL != "" {
		rdb, err := db.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		otpRepo = repo.NewRedisOtpRepo(rdb)
		log.Info(ctx, "otp store: redis")
	}

	userRepo := repo.NewUserRepo(database)
	sessionRepo := repo.NewSessionRepo(database)

	policy, err := auth.LoadAccessPolicy(cfg.AccessPolicyFile)
	if err != nil {
		return err
	}
	jwtService := auth.NewJWTService(map[model.Platform]string{
		model.PlatformUserApp: cfg.JWTUserAppSecret,
		model.PlatformAdmin:   cfg.JWTAdminSecret,
	}, cfg.TokenTTL)

	smsClient := sms.NewClient(cfg.SMS, log)
	if smsClient.DryRun() {
		log.Warn(ctx, "sms gateway in dry-run mode, OTPs are only logged")
	}

	deps := auth.Deps{
		Users:    userRepo,
		Sessions: sessionRepo,
		OTPs:     otpRepo,
		Tokens:   jwtService,
		Policy:   policy,
		SMS:      smsClient,
		Log:      log,
	}
	// a nil *Mailer must not become a non-nil interface
	if mailer := notify.NewMailer(cfg.SMTP); mailer != nil {
		deps.Notifier = mailer
	}

	authService := auth.NewService(deps, auth.Options{
		MaxLoginRetry:         cfg.MaxLoginRetry,
		LockoutWindow:         cfg.LoginLockoutWindow,
		OTPSalt:               cfg.OTPSalt,
		OTPTTL:                cfg.OTPTTL,
		LegacyPasswordConfirm: cfg.PasswordConfirmMode == config.PasswordConfirmLegacy,
		RevokeSessionsOnReset: cfg.RevokeSessionsOnReset,
	})
	authenticator := auth.NewAuthenticator(jwtService, userRepo, sessionRepo, policy)

	routes := httphandler.RouterConfig{
		UserApp:       handlers.NewAuthHandler(authService, model.PlatformUserApp, log),
		Authenticator: authenticator,
		CORSOrigin:    cfg.CORSOrigin,
		Log:           log,
	}
	if jwtService.Supports(model.PlatformAdmin) {
		routes.Admin = handlers.NewAuthHandler(authService, model.PlatformAdmin, log)
	}
	router := httphandler.NewRouter(routes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", "port", cfg.Port, "admin", routes.Admin != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// let in-flight SMS and mail dispatches finish
	authService.Wait()
	log.Info(ctx, "server exited")
	return nil
}
