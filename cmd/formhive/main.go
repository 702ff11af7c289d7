package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/formhive/formhive/pkg/auth"
	"github.com/formhive/formhive/pkg/config"
	"github.com/formhive/formhive/pkg/httputil"
	"github.com/formhive/formhive/pkg/observability"
	"github.com/formhive/formhive/pkg/sso"
	"github.com/formhive/formhive/pkg/workspaces"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	users := auth.NewUserStore(db)
	sessions := auth.NewSessionManager(db)
	workspaceStore := workspaces.NewStore(db)

	connections := sso.NewConnectionStore(db)
	identities := sso.NewIdentityStore(db)
	keys := sso.NewKeySetFetcher(logger)
	verifier := sso.NewTokenVerifier(keys)
	joiner := sso.NewDomainJoiner(workspaceStore)
	provisioner := sso.NewProvisioningService(db, users, identities, joiner, workspaceStore, logger)
	ssoHandler := sso.NewHandler(cfg, connections, verifier, provisioner, sessions, nil, logger)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware)
		router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	}

	health := observability.NewHealthChecker(db)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)

	ssoHandler.RegisterRoutes(router)
	ssoHandler.RegisterAdminRoutes(router.PathPrefix("/api/admin").Subrouter())

	// Periodic sweep of expired sessions.
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Auth.SessionCleanupSchedule, func() {
		deleted, err := sessions.CleanupExpiredSessions(context.Background())
		if err != nil {
			logger.WithError(err).Warn("session cleanup failed")
			return
		}
		if deleted > 0 {
			observability.SessionsCleanedTotal.Add(float64(deleted))
			logger.WithField("deleted", deleted).Debug("expired sessions removed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("invalid session cleanup schedule")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithFields(map[string]any{
			"addr":        server.Addr,
			"environment": cfg.Server.Environment,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
