package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitProofs      = 5
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultHMACSignatureHeader  = "X-Signature"
	defaultHMACTimestampHeader  = "X-Signature-Timestamp"
	defaultHMACNonceHeader      = "X-Signature-Nonce"
	defaultHMACClockSkew        = 5 * time.Minute
	defaultHMACNonceTTL         = 5 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultExpiryBatchSize      = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Jobs        JobsConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port string

	ReadTimeout, WriteTimeout, IdleTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// StorageConfig lists bucket names used by the application plus the service
// account key used to mint signed upload URLs for design files.
type StorageConfig struct {
	DesignsBucket string
	ProofsBucket  string
	SignedURLKey  string
}

// PubSubConfig names the topics lifecycle events are published to.
type PubSubConfig struct {
	ProjectID            string
	QuotationEventsTopic string
	OrderEventsTopic     string
	EmulatorHost         string
}

// JobsConfig tunes the scheduled maintenance endpoints.
type JobsConfig struct {
	QuotationExpiryBatchSize int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	ProofUploadsPerMinute  int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	// Environment selects which per-environment secret project applies.
	Environment string

	OIDC OIDCConfig
	HMAC HMACConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	Audience  string
	Audiences map[string]string
	Issuers   []string
	JWKSURL   string
}

// HMACConfig captures request signing expectations for internal callers.
type HMACConfig struct {
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string

	ClockSkew time.Duration
	NonceTTL  time.Duration

	// Secrets maps caller names to secret references resolved at startup.
	Secrets map[string]string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration

	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	names := make([]string, len(e.secrets))
	for i, s := range e.secrets {
		names[i] = s.redacted
	}
	sort.Strings(names)
	return names
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	names := make([]string, len(e.secrets))
	for i, s := range e.secrets {
		names[i] = s.name
	}
	sort.Strings(names)
	return names
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile         string
	overrides       map[string]string
	skipSystemEnv   bool
	resolver        SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

func newLoader(opts []Option) loader {
	l := loader{envFile: defaultEnvFile}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

func systemEnviron() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if !found || strings.TrimSpace(key) == "" {
			continue
		}
		env[strings.TrimSpace(key)] = value
	}
	return env
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	l := newLoader(opts)

	fileValues, err := readDotEnv(l.envFile)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(fileValues))
	for k, v := range fileValues {
		merged[k] = v
	}
	if !l.skipSystemEnv {
		for k, v := range systemEnviron() {
			merged[k] = v
		}
	}
	for k, v := range l.overrides {
		merged[k] = v
	}
	return merged, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.overrides = values }
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.skipSystemEnv = true }
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.resolver = resolver }
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Storage.SignedURLKey" or "Security.HMAC.Secrets[scheduler]").
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.requiredSecrets = append(l.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(l *loader) { l.panicOnMissing = true }
}

type lookupFunc func(key string) (string, bool)

func (l loader) lookup(fileValues map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		if v, ok := l.overrides[key]; ok {
			return v, true
		}
		if !l.skipSystemEnv {
			if v, ok := os.LookupEnv(key); ok {
				return v, true
			}
		}
		v, ok := fileValues[key]
		return v, ok
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	if l.resolver == nil {
		l.resolver = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		})
	}

	fileValues, err := readDotEnv(l.envFile)
	if err != nil {
		return Config{}, err
	}
	env := l.lookup(fileValues)

	cfg := buildConfig(env)

	// Firestore and Pub/Sub projects default to the Firebase project when
	// unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}

	if cfg.Security.OIDC.Audience == "" {
		envKey := strings.ToLower(cfg.Security.Environment)
		if audience, ok := cfg.Security.OIDC.Audiences[envKey]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolved := make(map[string]string)

	for caller, ref := range cfg.Security.HMAC.Secrets {
		value, err := resolveRef(ctx, ref, l.resolver)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[caller] = value
		resolved[fmt.Sprintf("Security.HMAC.Secrets[%s]", caller)] = strings.TrimSpace(value)
	}

	// The OIDC audience and the storage signer key may also point at Secret
	// Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Security.OIDC.Audience", &cfg.Security.OIDC.Audience},
		{"Storage.SignedURLKey", &cfg.Storage.SignedURLKey},
	}
	for _, sf := range secretFields {
		value, err := resolveRef(ctx, *sf.field, l.resolver)
		if err != nil {
			return Config{}, err
		}
		*sf.field = value
		resolved[sf.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := missingRequiredSecrets(l.requiredSecrets, resolved); missing != nil {
		if l.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func buildConfig(env lookupFunc) Config {
	return Config{
		Server: ServerConfig{
			Port:         envString(env, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  envDuration(env, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: envDuration(env, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  envDuration(env, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       envString(env, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: envString(env, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    envString(env, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: envString(env, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DesignsBucket: envString(env, "API_STORAGE_DESIGNS_BUCKET", ""),
			ProofsBucket:  envString(env, "API_STORAGE_PROOFS_BUCKET", ""),
			SignedURLKey:  envString(env, "API_STORAGE_SIGNED_URL_KEY", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:            envString(env, "API_PUBSUB_PROJECT_ID", ""),
			QuotationEventsTopic: envString(env, "API_PUBSUB_QUOTATION_EVENTS_TOPIC", ""),
			OrderEventsTopic:     envString(env, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
			EmulatorHost:         envString(env, "API_PUBSUB_EMULATOR_HOST", ""),
		},
		Jobs: JobsConfig{
			QuotationExpiryBatchSize: envInt(env, "API_JOBS_QUOTATION_EXPIRY_BATCH", defaultExpiryBatchSize),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       envInt(env, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: envInt(env, "API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			ProofUploadsPerMinute:  envInt(env, "API_RATELIMIT_PROOF_UPLOADS_PER_MIN", defaultRateLimitProofs),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(envString(env, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   envString(env, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  envString(env, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: envKeyValues(env, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   envList(env, "API_SECURITY_OIDC_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         envKeyValues(env, "API_SECURITY_HMAC_SECRETS"),
				SignatureHeader: envString(env, "API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: envString(env, "API_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     envString(env, "API_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       envDuration(env, "API_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        envDuration(env, "API_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           envString(env, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              envDuration(env, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  envDuration(env, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: envInt(env, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

func resolveRef(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretRef(value) {
		return value, nil
	}
	ref := canonicalSecretRef(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Storage.DesignsBucket != "", "Storage.DesignsBucket")
	require(cfg.Storage.ProofsBucket != "", "Storage.ProofsBucket")
	require(cfg.Jobs.QuotationExpiryBatchSize > 0, "Jobs.QuotationExpiryBatchSize")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func missingRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []missingSecret
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretRef(value string) bool {
	v := strings.TrimSpace(value)
	return strings.HasPrefix(v, "secret://") || strings.HasPrefix(v, "sm://")
}

func canonicalSecretRef(value string) string {
	v := strings.TrimSpace(value)
	if rest, found := strings.CutPrefix(v, "sm://"); found {
		return "secret://" + rest
	}
	return v
}

// redactSecretName hashes a secret identifier so errors never echo bucket
// names or caller IDs into logs.
func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	file, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", abs, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", abs, err)
	}
	return values, nil
}

func envString(env lookupFunc, key, fallback string) string {
	if v, ok := env(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(env lookupFunc, key string, fallback time.Duration) time.Duration {
	v, ok := env(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(env lookupFunc, key string, fallback int) int {
	v, ok := env(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envList(env lookupFunc, key string) []string {
	raw, ok := env(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}

func envKeyValues(env lookupFunc, key string) map[string]string {
	values := make(map[string]string)
	raw, ok := env(key)
	if !ok {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
