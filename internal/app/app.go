// Package app wires configuration, storage, gateway adapters, and HTTP routes
// into the billing server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/docuflow/backend/internal/accounts"
	"github.com/docuflow/backend/internal/billing"
	"github.com/docuflow/backend/internal/cache"
	"github.com/docuflow/backend/internal/config"
	"github.com/docuflow/backend/internal/db"
	"github.com/docuflow/backend/internal/gateway"
	"github.com/docuflow/backend/internal/http/api"
	"github.com/docuflow/backend/internal/http/api/front"
	"github.com/docuflow/backend/internal/http/api/health"
	"github.com/docuflow/backend/internal/http/api/internalapi"
	"github.com/docuflow/backend/internal/http/api/webhooks"
	"github.com/docuflow/backend/internal/plans"
	"github.com/docuflow/backend/internal/quota"
)

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the billing server with database-backed components and runs
// until ctx is canceled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtConfig, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}
	serverCfg, errServerCfg := config.LoadServerConfig(configPath)
	if errServerCfg != nil {
		return errServerCfg
	}

	table := plans.Load(serverCfg.Plans)

	cacheClient := cache.New(serverCfg.Redis.Addr, serverCfg.Redis.Password, serverCfg.Redis.DB)
	defer func() {
		if errClose := cacheClient.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close redis client")
		}
	}()

	resolver := accounts.NewResolver(conn)
	registry := gateway.NewRegistry(
		gateway.NewStripeAdapter(serverCfg.Gateways.Stripe, resolver),
		gateway.NewPaymobAdapter(serverCfg.Gateways.Paymob, resolver),
		gateway.NewKashierAdapter(serverCfg.Gateways.Kashier, resolver),
		gateway.NewFawryAdapter(serverCfg.Gateways.Fawry, resolver),
	)

	subs := billing.NewService(conn, registry)
	ledger := quota.NewLedger(conn, table, subs, cacheClient)
	ingestor := billing.NewIngestor(conn, registry, subs, ledger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(api.RequestIDMiddleware())

	healthHandler := health.NewHealthHandler(conn)
	engine.GET("/healthz", healthHandler.Healthz)

	webhooks.RegisterWebhookRoutes(engine, webhooks.NewWebhookHandler(ingestor, registry, serverCfg.Checkout))
	front.RegisterFrontRoutes(engine, conn, jwtConfig, subs, ledger, table)
	internalapi.RegisterInternalRoutes(engine, conn, ledger, serverCfg.InternalToken)

	sweeper := billing.NewSweeper(conn, serverCfg.SweepInterval)
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
	}()

	log.WithFields(log.Fields{
		"port":     port,
		"gateways": registry.Names(),
	}).Info("billing server started")

	select {
	case errServe := <-serveErr:
		return errServe
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
