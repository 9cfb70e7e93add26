package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/sessions"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	sessionStore, err := app.NewSessionStore(cfg, dbpool, redisClient)
	if err != nil {
		logger.Error("init session store", slog.Any("error", err))
		os.Exit(1)
	}
	sessionManager := sessions.NewManager(sessionStore, cfg.SessionTTL, logger)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, sessionManager, users.Options{
		CaseInsensitiveEmail: cfg.EmailCaseInsensitive,
		BcryptCost:           cfg.BcryptCost,
		DefaultRole:          users.DefaultRoleName,
		Logger:               logger,
		Audit:                auditLogger,
	})

	tokenCodec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:    []byte(cfg.JWTSecret),
		Algorithm: cfg.JWTAlgorithm,
		TTL:       cfg.JWTTTL,
		Issuer:    cfg.JWTIssuer,
	})
	if err != nil {
		logger.Error("init token codec", slog.Any("error", err))
		os.Exit(1)
	}
	resolver := auth.NewResolver(tokenCodec, sessionManager, usersService, logger, metrics)
	authService := auth.NewService(usersService, tokenCodec, sessionManager, resolver, auditLogger, logger)
	cookie := auth.CookieConfig{Name: cfg.SessionCookie, MaxAge: cfg.SessionTTL, Secure: cfg.IsProduction()}
	authMiddleware := auth.NewMiddleware(resolver, cookie, logger)
	authHandler := auth.NewHandler(logger, authService, usersService, auth.HandlerOptions{
		Cookie:         cookie,
		LoginRateLimit: cfg.LoginRateLimit,
	})

	rbacRepo := rbac.NewRepository(dbpool)
	authorizer := rbac.NewAuthorizer(rbacRepo, rbac.AuthorizerOptions{
		Cache:   rbac.NewRuleCache(redisClient, cfg.RuleCacheTTL, logger),
		TTL:     cfg.RuleCacheTTL,
		Logger:  logger,
		Metrics: metrics,
	})
	go func() {
		if err := authorizer.Listen(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("rule invalidation listener stopped", slog.Any("error", err))
		}
	}()
	rbacMiddleware := rbac.Middleware{Evaluator: authorizer, Logger: logger}
	rbacService := rbac.NewService(rbacRepo, authorizer, auditLogger, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthMiddleware:  authMiddleware,
		AuthHandler:     authHandler,
		UsersHandler:    users.NewHandler(logger, usersService, rbacMiddleware),
		RBACHandler:     rbac.NewHandler(logger, rbacService, rbacMiddleware),
		SessionsHandler: sessions.NewHandler(logger, sessionManager, auditLogger, rbacMiddleware),
		JobHandler:      jobs.NewHandler(inspector, logger),
		RBACMiddleware:  rbacMiddleware,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("session_backend", cfg.SessionBackend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
