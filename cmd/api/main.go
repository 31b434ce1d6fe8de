package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/groupdiscount/api/internal/handlers"
	"github.com/groupdiscount/api/internal/platform/auth"
	"github.com/groupdiscount/api/internal/platform/config"
	pfirestore "github.com/groupdiscount/api/internal/platform/firestore"
	"github.com/groupdiscount/api/internal/platform/idempotency"
	"github.com/groupdiscount/api/internal/platform/jobs"
	"github.com/groupdiscount/api/internal/platform/observability"
	"github.com/groupdiscount/api/internal/platform/secrets"
	platformstorage "github.com/groupdiscount/api/internal/platform/storage"
	firestoreRepo "github.com/groupdiscount/api/internal/repositories/firestore"
	"github.com/groupdiscount/api/internal/services"
	"github.com/groupdiscount/api/internal/shopify"
)

const shutdownGrace = 15 * time.Second

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	repo, err := firestoreRepo.NewDiscountConfigRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repository", zap.Error(err))
	}

	var events services.ConfigEventPublisher
	if cfg.PubSub.Topic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := jobs.NewPubSubConfigEventPublisher(pubsubClient.Topic(cfg.PubSub.Topic))
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		events = publisher
	}

	var archiver services.SnapshotArchiver
	if cfg.Storage.SnapshotBucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		snapshotArchiver, err := platformstorage.NewSnapshotArchiver(storageClient, cfg.Storage.SnapshotBucket)
		if err != nil {
			logger.Fatal("failed to initialise snapshot archiver", zap.Error(err))
		}
		archiver = snapshotArchiver
	}

	configService, err := services.NewDiscountConfigService(services.DiscountConfigServiceDeps{
		Repository: repo,
		Events:     events,
		Logger:     observability.EventLogger(logger.Named("config")),
	})
	if err != nil {
		logger.Fatal("failed to initialise config service", zap.Error(err))
	}

	metafieldClient := shopify.NewMetafieldClient(
		shopify.WithAPIVersion(cfg.Shopify.APIVersion),
		shopify.WithMetafieldKey(cfg.Shopify.MetafieldNamespace, cfg.Shopify.MetafieldKey),
		shopify.WithHTTPClient(&http.Client{Timeout: cfg.Shopify.Timeout}),
	)

	syncService, err := services.NewSyncService(services.SyncServiceDeps{
		Repository: repo,
		Publisher:  metafieldClient,
		Archiver:   archiver,
		Events:     events,
		Logger:     observability.EventLogger(logger.Named("sync")),
	})
	if err != nil {
		logger.Fatal("failed to initialise sync service", zap.Error(err))
	}

	production := cfg.Security.IsProduction()

	var storefrontMW []func(http.Handler) http.Handler
	if cfg.Security.AppProxySecret != "" {
		proxyValidator := auth.NewAppProxyValidator(
			auth.StaticSecret(cfg.Security.AppProxySecret),
			"app-proxy-secret",
			auth.WithAppProxyLogger(logger.Named("appproxy")),
		)
		storefrontMW = append(storefrontMW, proxyValidator.RequireSignature())
	} else {
		logger.Warn("app proxy secret not configured, storefront signature checks disabled")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	storefrontMW = append(storefrontMW, idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	))

	var internalMW []func(http.Handler) http.Handler
	if cfg.Security.OIDC.JWKSURL != "" {
		jwks := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger.Named("jwks")))
		oidcValidator := auth.NewOIDCValidator(jwks, auth.WithOIDCLogger(logger.Named("oidc")))
		internalMW = append(internalMW, oidcValidator.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers))
	} else {
		logger.Warn("oidc verification not configured, internal routes unguarded")
	}

	health := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			_, err := firestoreProvider.Client(ctx)
			return err
		}),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithStorefrontMiddlewares(storefrontMW...),
		handlers.WithDiscountRoutes(handlers.NewDiscountConfigHandlers(configService, production).Routes),
		handlers.WithSyncRoutes(handlers.NewSyncHandlers(syncService, production).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(syncService, production).Routes),
		handlers.WithInternalMiddlewares(internalMW...),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		logger.Fatal("server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			_ = server.Close()
		}
	}
}
