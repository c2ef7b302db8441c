package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	latestVersion = "latest"

	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"

	metricNamespace = "github.com/printy-garments/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager. Values
// are cached per version, and a local fallback file covers development
// environments without Secret Manager access.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger *zap.Logger

	env         string
	projectID   string
	projects    map[string]string
	versionPins map[string]string

	local fallbackStore

	mu          sync.RWMutex
	cache       map[string]cacheEntry
	subscribers map[string][]chan struct{}

	metrics fetchMetrics
}

type cacheEntry struct {
	value     string
	secret    string
	version   string
	source    string
	fetchedAt time.Time
}

// fallbackStore lazily loads a key=value secrets file. The absence of the
// file is not an error.
type fallbackStore struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

type fetchMetrics struct {
	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type fetcherConfig struct {
	logger *zap.Logger
	meter  metric.Meter

	env         string
	defaultProj string
	projectMap  map[string]string
	versionPins map[string]string

	fallbackPath string

	client     secretManagerClient
	clientOpts []option.ClientOption
}

// Option customises how the Fetcher is built.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment selects which entry of the project map applies, matching
// the deployment environment (local, staging, production).
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the environment has no
// dedicated mapping.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projectMap = copyStringMap(m) }
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a preconfigured client, mainly for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options such as emulator endpoints.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithVersionPins pins specific secret versions, keyed by canonical reference
// or by environment-prefixed reference.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.versionPins = copyStringMap(pins) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is tolerated
// so local development can run entirely from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectMap:   map[string]string{},
		versionPins:  map[string]string{},
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:      cfg.logger,
		env:         cfg.env,
		projectID:   cfg.defaultProj,
		projects:    copyStringMap(cfg.projectMap),
		versionPins: copyStringMap(cfg.versionPins),
		local:       fallbackStore{path: cfg.fallbackPath},
		cache:       make(map[string]cacheEntry),
		subscribers: make(map[string][]chan struct{}),
		metrics:     newFetchMetrics(cfg.meter, cfg.logger),
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}

	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

func newFetchMetrics(meter metric.Meter, logger *zap.Logger) fetchMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	var m fetchMetrics
	var err error

	m.latency, err = meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
		m.latency = nil
	}

	m.cacheHits, err = meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
		m.cacheHits = nil
	}
	return m
}

// Close releases resources held by the fetcher.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for secret, channels := range f.subscribers {
		delete(f.subscribers, secret)
		for _, ch := range channels {
			closeQuietly(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for the reference, consulting the cache
// first, then Secret Manager, then the local fallback file.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	version := f.versionFor(parsed)
	key := parsed.cacheKey(version)

	f.mu.RLock()
	entry, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		f.metrics.countHit(ctx, parsed.canonical)
		f.metrics.observe(ctx, time.Since(start), "cache", nil)
		return entry.value, nil
	}

	if projectID := f.projectFor(parsed); projectID != "" && f.client != nil {
		value, fetchErr := f.fetchRemote(ctx, parsed.resourcePath(projectID, version))
		switch {
		case fetchErr == nil:
			f.store(key, parsed, version, value, "remote")
			f.metrics.observe(ctx, time.Since(start), "remote", nil)
			return value, nil
		case !fallbackEligible(fetchErr):
			f.metrics.observe(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", parsed.canonical))
	}

	value, found := f.local.lookup(parsed, version)
	if !found {
		if loadErr := f.local.err; loadErr != nil {
			f.logger.Debug("secrets: fallback load error", zap.Error(loadErr))
		}
		err := fmt.Errorf("secrets: fallback value not found for %s", parsed.canonical)
		f.metrics.observe(ctx, time.Since(start), "error", err)
		return "", err
	}

	f.store(key, parsed, version, value, "fallback")
	f.metrics.observe(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

// Invalidate drops cached values for the reference and wakes subscribers.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, entry := range f.cache {
		if entry.secret == parsed.canonical {
			delete(f.cache, key)
		}
	}
	channels := f.subscribers[parsed.canonical]
	f.mu.Unlock()

	for _, ch := range channels {
		notifyQuietly(ch)
	}
}

// Subscribe returns a channel that fires when the secret is invalidated,
// typically after a rotation.
func (f *Fetcher) Subscribe(ref string) (<-chan struct{}, func()) {
	parsed, err := parseReference(ref)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)

	f.mu.Lock()
	f.subscribers[parsed.canonical] = append(f.subscribers[parsed.canonical], ch)
	f.mu.Unlock()

	return ch, func() { f.unsubscribe(parsed.canonical, ch) }
}

func (f *Fetcher) unsubscribe(secret string, ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	remaining := f.subscribers[secret][:0]
	for _, candidate := range f.subscribers[secret] {
		if candidate != ch {
			remaining = append(remaining, candidate)
		}
	}
	if len(remaining) == 0 {
		delete(f.subscribers, secret)
		return
	}
	f.subscribers[secret] = remaining
}

// Notify reports an external rotation event for the reference.
func (f *Fetcher) Notify(ref string) {
	f.Invalidate(ref)
}

func (f *Fetcher) store(key string, ref reference, version, value, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = cacheEntry{
		value:     value,
		secret:    ref.canonical,
		version:   version,
		source:    source,
		fetchedAt: time.Now(),
	}
}

func (f *Fetcher) fetchRemote(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	switch {
	case ref.project != "":
		return ref.project
	case strings.TrimSpace(f.projects[f.env]) != "":
		return strings.TrimSpace(f.projects[f.env])
	}
	return strings.TrimSpace(f.projectID)
}

// versionFor honours an explicit version in the reference first, then an
// environment-scoped pin, then a global pin.
func (f *Fetcher) versionFor(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	candidates := []string{ref.canonical}
	if env := strings.TrimSpace(f.env); env != "" {
		candidates = []string{env + ":" + ref.canonical, ref.canonical}
	}
	for _, key := range candidates {
		if pin := strings.TrimSpace(f.versionPins[key]); pin != "" {
			return pin
		}
	}
	return latestVersion
}

func (s *fallbackStore) lookup(ref reference, version string) (string, bool) {
	s.once.Do(s.load)
	if s.err != nil {
		return "", false
	}
	for _, key := range []string{ref.cacheKey(version), ref.canonical} {
		if val, ok := s.values[key]; ok {
			return val, true
		}
	}
	return "", false
}

func (s *fallbackStore) load() {
	s.values = map[string]string{}

	path := strings.TrimSpace(s.path)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		s.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		return
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := splitFallbackLine(scanner.Text())
		if !ok {
			continue
		}
		parsed, err := parseReference(key)
		if err != nil {
			values[key] = value
			continue
		}
		version := parsed.version
		if version == "" {
			version = latestVersion
		}
		values[parsed.canonical] = value
		values[parsed.cacheKey(version)] = value
	}
	if err := scanner.Err(); err != nil {
		s.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
	s.values = values
}

// splitFallbackLine parses one line of the fallback file. Blank lines and
// comments yield ok=false. Legacy sm:// keys become secret:// keys.
func splitFallbackLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}
	if rest, legacy := strings.CutPrefix(key, "sm://"); legacy {
		key = "secret://" + rest
	}
	return key, value, true
}

func (m fetchMetrics) observe(ctx context.Context, d time.Duration, source string, err error) {
	if m.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m fetchMetrics) countHit(ctx context.Context, canonical string) {
	if m.cacheHits == nil {
		return
	}
	digest := sha256.Sum256([]byte(canonical))
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}

func notifyQuietly(ch chan struct{}) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}

// reference is a parsed secret://name?version=N&project=P value. canonical
// omits the query so every spelling of the same secret shares cache entries
// and subscriptions.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	stripped := *u
	stripped.RawQuery = ""
	stripped.Fragment = ""

	query := u.Query()
	return reference{
		canonical: stripped.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func (r reference) cacheKey(version string) string {
	return r.canonical + "#" + version
}

func (r reference) resourcePath(projectID, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, r.name, version)
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

// fallbackEligible reports whether a Secret Manager failure should be
// answered from the local fallback file rather than surfaced.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return err != nil
	}
	return false
}
