package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/postgres"
	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/secretbox"
	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/shopify"
	sqliteadapter "github.com/ericfisherdev/ratingsync/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/ratingsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/ratingsync/internal/application"
	"github.com/ericfisherdev/ratingsync/internal/config"
	"github.com/ericfisherdev/ratingsync/internal/domain/model"
	"github.com/ericfisherdev/ratingsync/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing or inconsistent env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
		"api_version", cfg.APIVersion,
		"multi_tenant", cfg.MultiTenant(),
		"single_tenant", cfg.SingleTenant(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the credential store and run migrations.
	box, err := secretbox.New(cfg.SecretKey)
	if err != nil {
		return err
	}
	st, err := openStorage(ctx, cfg, box, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// 4. Wire adapters.
	m := metrics.New()
	creds := application.NewCredentialCache(st.creds, m)

	if cfg.SingleTenant() {
		err := creds.Save(ctx, model.Credential{
			ShopDomain:  cfg.ShopDomain,
			AccessToken: cfg.ShopAccessToken,
			Scope:       strings.Join(cfg.Scopes, ","),
			UpdatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("installing configured shop credential: %w", err)
		}
		logger.Info("shop credential installed from environment", "shop", cfg.ShopDomain)
	}
	if !cfg.MultiTenant() {
		logger.Warn("oauth install flow not configured, /auth will not complete installs")
	}

	fields := shopify.NewClient(shopify.Options{
		APIVersion: cfg.APIVersion,
		Timeout:    cfg.Timeout,
		RPS:        cfg.RPS,
		Burst:      cfg.Burst,
	}, m, logger)

	oauth := shopify.NewOAuth(shopify.OAuthConfig{
		APIKey:      cfg.APIKey,
		APISecret:   cfg.APISecret,
		Scopes:      cfg.Scopes,
		RedirectURL: cfg.RedirectURL(),
	}, shopify.NewHTTPClient(cfg.Timeout))

	// 5. Create services.
	ratingSvc := application.NewRatingService(creds, fields, m, application.RatingServiceOptions{
		SerializeSubmissions: cfg.SerializeSubmissions,
	}, logger)
	authSvc := application.NewAuthService(oauth, st.states, creds, application.AuthOptions{
		VerifyCallback: cfg.VerifyCallback,
		StateTTL:       cfg.OAuthStateTTL,
	}, logger)
	healthSvc := application.NewHealthService(st.pinger)

	// 6. Create HTTP handler and router.
	h := httphandler.NewHandler(ratingSvc, authSvc, healthSvc, cfg.ShopDomain, logger)
	handler := httphandler.NewServeMux(h, httphandler.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Observer:    m,
		Metrics:     m.Handler(),
	}, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("ratingsync started", "listen_addr", cfg.ListenAddr)

	// 7. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// 8. Graceful shutdown with 10s drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// storage bundles the backend-specific repositories behind their ports.
type storage struct {
	creds  driven.CredentialStore
	states driven.StateStore
	pinger application.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config, box *secretbox.Box, logger *slog.Logger) (*storage, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.PostgresURL, postgres.Options{ConnTimeout: 10 * time.Second}, logger)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(pg); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("migrations complete", "store", cfg.Store)
		return &storage{
			creds:  postgres.NewCredentialRepo(pg, box),
			states: postgres.NewStateRepo(pg),
			pinger: pg,
			close:  pg.Close,
		}, nil

	default:
		// Dual reader/writer with WAL mode.
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		version, err := sqliteadapter.RunMigrations(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("migrations complete", "store", cfg.Store, "path", cfg.DBPath, "schema_version", version)
		return &storage{
			creds:  sqliteadapter.NewCredentialRepo(db, box),
			states: sqliteadapter.NewStateRepo(db),
			pinger: db,
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error("error closing database", "error", err)
				}
			},
		}, nil
	}
}
