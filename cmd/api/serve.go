package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aisaas-platform/aisaas/internal/admin"
	"github.com/aisaas-platform/aisaas/internal/api"
	"github.com/aisaas-platform/aisaas/internal/auth"
	"github.com/aisaas-platform/aisaas/internal/billing"
	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/database"
	"github.com/aisaas-platform/aisaas/internal/generation"
	"github.com/aisaas-platform/aisaas/internal/ledger"
	"github.com/aisaas-platform/aisaas/internal/processor"
	"github.com/aisaas-platform/aisaas/internal/storage"
	"github.com/aisaas-platform/aisaas/internal/store"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, db, err := initializeAPI(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer db.Close()
			return runServer(ctx, srv, a.cfg.Server, a.logger)
		},
	}
}

// initializeAPI opens the database and wires every component behind the
// HTTP handler. The caller closes the returned database.
func initializeAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*api.Api, *sql.DB, error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, cfg.Database.Type)

	svc, err := buildServices(ctx, cfg, st, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	srv, err := api.NewApi(*cfg, svc, logger.Named("http"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return srv, db, nil
}

func buildServices(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger) (api.Services, error) {
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	backend, err := generation.NewBackend(cfg.Generation, logger)
	if err != nil {
		return api.Services{}, err
	}

	var artifacts ledger.ArtifactStore
	if cfg.Storage.Enabled {
		s3Client, err := storage.NewS3Client(ctx, cfg.Storage, logger.Named("storage"))
		if err != nil {
			return api.Services{}, err
		}
		artifacts = s3Client
	}

	var (
		payments billing.Processor
		webhooks api.WebhookParser
	)
	if cfg.Billing.Enabled() || cfg.Billing.WebhookSecret != "" {
		stripe := processor.NewStripe(cfg.Billing, nil)
		if cfg.Billing.Enabled() {
			payments = stripe
		}
		if cfg.Billing.WebhookSecret != "" {
			webhooks = stripe
		}
	} else {
		logger.Warn("Billing is not configured; checkout and webhooks are disabled")
	}

	return api.Services{
		Store:      st,
		Resolver:   auth.NewResolver(tokens, st, logger.Named("auth")),
		Ledger:     ledger.New(st, backend, artifacts, cfg.Generation.Timeout, logger.Named("ledger")),
		Billing:    billing.NewService(st, payments, cfg.Billing.ProPriceCents, cfg.Billing.Currency, logger.Named("billing")),
		Reconciler: billing.NewReconciler(st, cfg.Billing.PeriodDays, cfg.Billing.Currency, logger.Named("billing")),
		Webhooks:   webhooks,
		Admin:      admin.NewService(st, logger.Named("admin")),
	}, nil
}

// runServer serves until ctx is done and then shuts down gracefully.
func runServer(ctx context.Context, handler http.Handler, cfg config.ServerConfig, logger *zap.Logger) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting API server", zap.String("addr", server.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
