package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/clinic-api/internal/config"
	"github.com/iliyamo/clinic-api/internal/csrf"
	"github.com/iliyamo/clinic-api/internal/database"
	"github.com/iliyamo/clinic-api/internal/handler"
	"github.com/iliyamo/clinic-api/internal/logger"
	"github.com/iliyamo/clinic-api/internal/queue"
	"github.com/iliyamo/clinic-api/internal/repository"
	"github.com/iliyamo/clinic-api/internal/router"
	"github.com/iliyamo/clinic-api/internal/security"
	"github.com/iliyamo/clinic-api/internal/service"
	"github.com/iliyamo/clinic-api/internal/token"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("mysql connect failed")
	}
	defer db.Close()

	cipher, err := security.NewCipher(cfg.CipherKeySecret, cfg.CipherIVSecret, cfg.CipherHashSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("cipher setup failed")
	}
	codec, err := token.NewCodec(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("token codec setup failed")
	}

	rdb := config.NewRedisClient()
	var csrfStore csrf.Store = csrf.NewMemoryStore()
	if rdb != nil {
		csrfStore = csrf.NewRedisStore(rdb, "csrf")
		defer rdb.Close()
	}
	guard := csrf.NewGuard(csrfStore, cfg.CSRFTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditRepo := repository.NewAuditRepo(db)
	var auditor service.Auditor = auditRepo
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL)
		defer pub.Close()
		auditor = queue.Fallback{Primary: pub, Secondary: auditRepo}
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitURL, auditRepo); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("audit consumer stopped")
			}
		}()
	}

	tokens := service.NewRefreshStore(repository.NewTokenRepo(db), guard, auditor, cfg.RefreshTTL)
	svc := service.NewSessionService(service.Deps{
		Users:     repository.NewUserRepo(db),
		Roles:     repository.NewRoleRepo(db),
		Tokens:    tokens,
		Codec:     codec,
		CSRF:      guard,
		Cipher:    cipher,
		Passwords: security.NewPasswordHasher(cfg.BcryptCost),
		Audit:     auditor,
		AuditLog:  auditRepo,
	})

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(logger.EchoLogger())

	deps := router.Deps{
		Auth:      handler.NewAuthHandler(svc, cfg.Cookie),
		Codec:     codec,
		CSRF:      guard,
		Tenants:   repository.NewTenantRepo(db),
		DB:        db,
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, deps)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
