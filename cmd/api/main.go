package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/printy-garments/api/internal/di"
	"github.com/printy-garments/api/internal/handlers"
	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/platform/config"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
	"github.com/printy-garments/api/internal/platform/idempotency"
	"github.com/printy-garments/api/internal/platform/jobs"
	"github.com/printy-garments/api/internal/platform/observability"
	"github.com/printy-garments/api/internal/platform/secrets"
	platformstorage "github.com/printy-garments/api/internal/platform/storage"
	"github.com/printy-garments/api/internal/repositories"
	firestoreRepo "github.com/printy-garments/api/internal/repositories/firestore"
	"github.com/printy-garments/api/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer closeLogged(logger, "secret fetcher close error", fetcher.Close)

	cfg := loadConfig(ctx, logger, fetcher, envValues)
	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider, firestoreClient, closeFirestore := mustFirestore(ctx, logger, cfg)
	defer closeFirestore()

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer closeLogged(logger, "storage close error", storageClient.Close)

	proofUploader, err := platformstorage.NewProofUploader(storageClient, cfg.Storage.ProofsBucket)
	if err != nil {
		logger.Fatal("failed to initialise proof uploader", zap.Error(err))
	}

	signedURLClient := newSignedURLClient(logger, cfg)

	quotationEvents, orderEvents, closePubSub, err := newEventPublishers(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise pubsub publishers", zap.Error(err))
	}
	if closePubSub != nil {
		defer closePubSub()
	}
	if quotationEvents == nil && orderEvents == nil {
		logger.Warn("pubsub topics not configured; lifecycle events will not be published")
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	healthRepo, err := newDependencyHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Dependencies{
		Firebase:        firebaseVerifier,
		Signer:          signedURLClient,
		DesignsBucket:   cfg.Storage.DesignsBucket,
		Proofs:          proofUploader,
		QuotationEvents: quotationEvents,
		OrderEvents:     orderEvents,
		Build:           buildInfo,
		Clock:           time.Now,
		Logger:          serviceLogFunc(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)

	internalMiddleware := buildInternalAuthMiddleware(logger.Named("auth"), cfg)
	if internalMiddleware == nil {
		logger.Warn("internal auth not configured; scheduler endpoints will reject requests")
	}

	router := buildRouter(routerDeps{
		cfg:                   cfg,
		logger:                logger,
		authenticator:         authenticator,
		services:              container.Services,
		buildInfo:             buildInfo,
		idempotencyMiddleware: idempotencyMiddleware,
		internalMiddleware:    internalMiddleware,
	})

	serveUntilSignalled(logger, cfg.Server, router, stopCleanup)
}

// serveUntilSignalled runs the HTTP server until SIGINT or SIGTERM, then
// drains in-flight requests before returning.
func serveUntilSignalled(logger *zap.Logger, cfg config.ServerConfig, handler http.Handler, stopCleanup func()) {
	server := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	server.ReadTimeout = cfg.ReadTimeout
	server.WriteTimeout = cfg.WriteTimeout
	server.IdleTimeout = cfg.IdleTimeout

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("printy garments api listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	stopCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// closeLogged runs a deferred close and downgrades its failure to a warning.
func closeLogged(logger *zap.Logger, msg string, close func() error) {
	if err := close(); err != nil {
		logger.Warn(msg, zap.Error(err))
	}
}

// mustFirestore builds the shared Firestore client and hands back a bounded
// shutdown hook alongside it.
func mustFirestore(ctx context.Context, logger *zap.Logger, cfg config.Config) (*pfirestore.Provider, *firestore.Client, func()) {
	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	closer := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
	return provider, client, closer
}

func loadConfig(ctx context.Context, logger *zap.Logger, fetcher *secrets.Fetcher, envValues map[string]string) config.Config {
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	return cfg
}

func newSignedURLClient(logger *zap.Logger, cfg config.Config) *platformstorage.Client {
	signerKey := strings.TrimSpace(cfg.Storage.SignedURLKey)
	if signerKey == "" {
		logger.Fatal("storage signer key is required")
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(signerKey))
	if err != nil {
		logger.Fatal("failed to parse storage signer key", zap.Error(err))
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Fatal("failed to initialise signed url client", zap.Error(err))
	}
	return client
}

// startIdempotencyCleanup sweeps expired idempotency records on a ticker.
// The returned function stops the sweeper and waits for an in-flight run.
func startIdempotencyCleanup(logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) func() {
	if cfg.CleanupInterval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(cfg.CleanupInterval)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ticker.C:
				runCtx, cancelRun := context.WithTimeout(ctx, time.Minute)
				removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
				cancelRun()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		cancel()
		wg.Wait()
	}
}

type routerDeps struct {
	cfg                   config.Config
	logger                *zap.Logger
	authenticator         *auth.Authenticator
	services              di.Services
	buildInfo             services.BuildInfo
	idempotencyMiddleware func(http.Handler) http.Handler
	internalMiddleware    func(http.Handler) http.Handler
}

func buildRouter(deps routerDeps) http.Handler {
	svc := deps.services

	meHandlers := handlers.NewMeHandlers(handlers.MeHandlersDeps{
		Authenticator: deps.authenticator,
		Users:         svc.Users,
		Drafts:        svc.Drafts,
		Quotations:    svc.Quotations,
		Orders:        svc.Orders,
		Designs:       svc.Designs,

		ProofUploadsPerMinute: deps.cfg.RateLimits.ProofUploadsPerMinute,
	})
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminHandlersDeps{
		Authenticator: deps.authenticator,
		Quotations:    svc.Quotations,
		Orders:        svc.Orders,
		Catalog:       svc.Catalog,
		Users:         svc.Users,
	})
	publicHandlers := handlers.NewPublicHandlers(svc.Catalog)
	internalHandlers := handlers.NewInternalHandlers(svc.Quotations)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(deps.buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(deps.cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(deps.logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(deps.logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithMeMiddlewares(deps.idempotencyMiddleware),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithAdminMiddlewares(deps.idempotencyMiddleware),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if deps.internalMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(deps.internalMiddleware))
	}

	return handlers.NewRouter(opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	info := services.BuildInfo{
		Version:     strings.TrimSpace(env["API_BUILD_VERSION"]),
		CommitSHA:   strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]),
		Environment: strings.TrimSpace(cfg.Security.Environment),
		StartedAt:   started,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.CommitSHA == "" {
		info.CommitSHA = "unknown"
	}
	if info.Environment == "" {
		info.Environment = "local"
	}
	return info
}

func serviceLogFunc(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

// newEventPublishers connects the Pub/Sub topics configured for quotation and
// order lifecycle events. Both publishers are nil when no topics are
// configured, which disables event emission without failing startup.
func newEventPublishers(ctx context.Context, cfg config.Config) (services.QuotationEventPublisher, services.OrderEventPublisher, func(), error) {
	quotationTopic := strings.TrimSpace(cfg.PubSub.QuotationEventsTopic)
	orderTopic := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if quotationTopic == "" && orderTopic == "" {
		return nil, nil, nil, nil
	}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		return nil, nil, nil, errors.New("pubsub project id is required when topics are configured")
	}

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" && os.Getenv(envPubSubEmulatorHost) == "" {
		_ = os.Setenv(envPubSubEmulatorHost, host)
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, nil, err
	}

	var qTopic, oTopic *pubsub.Topic
	if quotationTopic != "" {
		qTopic = client.Topic(quotationTopic)
	}
	if orderTopic != "" {
		oTopic = client.Topic(orderTopic)
	}

	publisher, err := jobs.NewPubSubEventPublisher(qTopic, oTopic)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		if qTopic != nil {
			qTopic.Stop()
		}
		if oTopic != nil {
			oTopic.Stop()
		}
		_ = client.Close()
	}

	var quotationEvents services.QuotationEventPublisher
	var orderEvents services.OrderEventPublisher
	if qTopic != nil {
		quotationEvents = publisher
	}
	if oTopic != nil {
		orderEvents = publisher
	}
	return quotationEvents, orderEvents, closeFn, nil
}

func newDependencyHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if client != nil {
		checks = append(checks, firestoreHealthCheck(client))
	}
	if fetcher != nil {
		checks = append(checks, secretManagerHealthCheck(fetcher))
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func firestoreHealthCheck(client *firestore.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func secretManagerHealthCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const healthRef = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, healthRef)
			if err == nil {
				return nil
			}
			// A missing probe secret still proves the API is reachable.
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

// buildInternalAuthMiddleware guards the /internal scheduler endpoints. Cloud
// Scheduler calls carry an OIDC identity token; HMAC signatures are the
// fallback for environments without one.
func buildInternalAuthMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) != "" {
		return oidcInternalMiddleware(logger, cfg)
	}
	return hmacInternalMiddleware(logger, cfg)
}

func oidcInternalMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	issuers := cfg.Security.OIDC.Issuers
	switch {
	case audience == "":
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	case len(issuers) == 0:
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, issuers)
}

func hmacInternalMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	secretsMap := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) != "" {
			secretsMap[strings.ToLower(key)] = value
		}
	}
	if len(secretsMap) == 0 {
		return nil
	}

	secretName := "scheduler"
	if _, ok := secretsMap[secretName]; !ok {
		names := make([]string, 0, len(secretsMap))
		for name := range secretsMap {
			names = append(names, name)
		}
		sort.Strings(names)
		secretName = names[0]
	}

	adapter := observability.NewPrintfAdapter(logger)
	validator := auth.NewHMACValidator(staticSecretProvider{secrets: secretsMap}, auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(adapter),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(secretName)
}

// staticSecretProvider serves HMAC secrets resolved once at startup.
type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch {
	case len(p.secrets) == 0:
		return "", errors.New("auth: hmac secrets not configured")
	case key == "":
		return "", errors.New("auth: secret name required")
	}
	secret, ok := p.secrets[key]
	if !ok || secret == "" {
		return "", errors.New("auth: secret not found")
	}
	return secret, nil
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

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := keyValuePairs(env["API_SECRET_PROJECT_IDS"], strings.ToLower); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if versionPins := secretVersionPinsFromEnv(env); len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{"Storage.SignedURLKey"}
	for key := range keyValuePairs(env["API_SECURITY_HMAC_SECRETS"], strings.ToLower) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}

	sort.Strings(required)
	return required
}

// secretVersionPinsFromEnv parses API_SECRET_VERSION_PINS, normalising
// every reference to the canonical secret:// form while preserving an
// optional environment prefix such as "production:".
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range keyValuePairs(env["API_SECRET_VERSION_PINS"], nil) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			if scheme := strings.Index(ref, "://"); scheme == -1 || idx < scheme {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if rest, found := strings.CutPrefix(ref, "sm://"); found {
			ref = "secret://" + rest
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// keyValuePairs parses "k1=v1,k2=v2" lists from the environment. A non-nil
// keyFn transforms keys before insertion.
func keyValuePairs(raw string, keyFn func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if keyFn != nil {
			key = keyFn(key)
		}
		result[key] = value
	}
	return result
}
