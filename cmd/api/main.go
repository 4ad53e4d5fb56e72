package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/repairdesk/api/internal/di"
	"github.com/repairdesk/api/internal/handlers"
	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/platform/config"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/platform/idempotency"
	"github.com/repairdesk/api/internal/platform/jobs"
	"github.com/repairdesk/api/internal/platform/observability"
	"github.com/repairdesk/api/internal/platform/requestctx"
	"github.com/repairdesk/api/internal/platform/secrets"
	platformstorage "github.com/repairdesk/api/internal/platform/storage"
	"github.com/repairdesk/api/internal/repositories"
	firestoreRepo "github.com/repairdesk/api/internal/repositories/firestore"
	"github.com/repairdesk/api/internal/repositories/memory"
	"github.com/repairdesk/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["REPAIRDESK_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics := observability.NewMetrics(nil, logger.Named("metrics"))
	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry, idempotencyStore, err := openPersistence(ctx, cfg, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise persistence", zap.Error(err))
	}

	infra := di.Infrastructure{
		Logger:  logger,
		Metrics: metrics,
		Build:   buildInfo,
	}

	verifier, err := di.NewPaymentVerifier(cfg.PSP, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment verifier", zap.Error(err))
	}
	if verifier == nil {
		logger.Warn("no payment provider configured; payment references are recorded unverified")
	} else {
		infra.Verifier = verifier
	}

	if topicName := strings.TrimSpace(cfg.PubSub.TicketEventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		topic.EnableMessageOrdering = true
		defer topic.Stop()
		publisher, err := jobs.NewPubSubTicketEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise ticket event publisher", zap.Error(err))
		}
		infra.Events = publisher
	}

	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage writer", zap.Error(err))
		}
		infra.Writer = writer

		if signerKey := strings.TrimSpace(cfg.Storage.SignerKey); signerKey != "" {
			signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
			if err != nil {
				logger.Fatal("failed to parse storage signer key", zap.Error(err))
			}
			signedURLClient, err := platformstorage.NewClient(signer, platformstorage.WithDownloadExpiry(cfg.Storage.SignedURLTTL))
			if err != nil {
				logger.Fatal("failed to initialise signed url client", zap.Error(err))
			}
			infra.Signer = signedURLClient
		}
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Fatal("firebase project id is required for staff authentication")
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithRevocationCheck(cfg.Firebase.CheckRevoked))
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, metrics)

	svc := container.Services
	ticketHandlers := handlers.NewTicketHandlers(svc.Tickets,
		handlers.WithTicketIdempotency(idempotencyMiddleware),
		handlers.WithTicketSystemService(svc.System),
		handlers.WithTicketIntakeRateLimit(cfg.RateLimits.PerMinute, time.Minute),
	)
	inventoryHandlers := handlers.NewInventoryHandlers(svc.Inventory, idempotencyMiddleware)
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons)
	internalHandlers := handlers.NewInternalHandlers(svc.Exports, idempotencyStore, time.Now)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID, metrics),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStaffMiddlewares(authenticator.RequireStaff(), observability.CaptureActor),
		handlers.WithTicketRoutes(ticketHandlers.Routes),
		handlers.WithRefundRoutes(ticketHandlers.RefundRoutes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware, observability.CaptureActor))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("repairdesk api listening", zap.String("backend", cfg.Persistence.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// openPersistence selects the repository backend. The idempotency store follows the same backend
// so replays survive restarts whenever tickets do.
func openPersistence(ctx context.Context, cfg config.Config, fetcher *secrets.Fetcher) (repositories.Registry, idempotency.Store, error) {
	if cfg.Persistence.Backend == config.BackendMemory {
		return memory.NewStore(), idempotency.NewMemoryStore(), nil
	}

	var providerOpts []pfirestore.ProviderOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
	}
	provider := pfirestore.NewProvider(cfg.Firestore, providerOpts...)
	if _, err := provider.Client(ctx); err != nil {
		return nil, nil, fmt.Errorf("firestore client: %w", err)
	}

	health, err := repositories.NewDependencyHealthRepository(dependencyChecks(provider, fetcher))
	if err != nil {
		return nil, nil, fmt.Errorf("health checks: %w", err)
	}
	registry, err := firestoreRepo.NewRegistry(provider, health)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore registry: %w", err)
	}
	return registry, idempotency.NewFirestoreStore(provider, cfg.Idempotency.Collection), nil
}

func dependencyChecks(provider *pfirestore.Provider, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{firestoreRepo.HealthCheck(provider)}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.ResolveSecret(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["REPAIRDESK_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCMetrics(metrics),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(auth.OIDCPolicy{
		Audience: audience,
		Issuers:  cfg.Security.OIDC.Issuers,
		Callers:  cfg.Security.OIDC.Callers,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("REPAIRDESK_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("REPAIRDESK_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("REPAIRDESK_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("REPAIRDESK_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve outside local development.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["REPAIRDESK_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" {
		return nil
	}
	if strings.TrimSpace(env["REPAIRDESK_STORAGE_EXPORTS_BUCKET"]) == "" {
		return nil
	}
	return []string{"Storage.SignerKey"}
}
