package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f == nil {
		return
	}
	f(ctx, kind, success, reason, duration)
}

// JWKSCache lazily fetches and caches the Google signing keys, honouring the
// Cache-Control headers Google serves and prefetching before expiry.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	refreshInterval time.Duration
	refreshTimeout  time.Duration

	background bool

	mu         sync.RWMutex
	byID       map[string]jose.JSONWebKey
	validUntil time.Time
	prefetchAt time.Time

	refreshMu  sync.Mutex
	refreshing atomic.Bool
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},

		refreshInterval: defaultJWKSRefreshInterval,
		refreshTimeout:  defaultJWKSRefreshTimeout,
		background:      true,

		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client == nil {
			return
		}
		c.client = client
	}
}

// WithJWKSLogger sets a custom logger for JWKS operations.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger == nil {
			return
		}
		c.logger = logger
	}
}

// WithJWKSRefreshInterval overrides the fallback refresh interval when cache headers are absent.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d <= 0 {
			return
		}
		c.refreshInterval = d
	}
}

// WithJWKSRefreshTimeout sets the timeout applied to JWKS fetches.
func WithJWKSRefreshTimeout(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d <= 0 {
			return
		}
		c.refreshTimeout = d
	}
}

// WithJWKSClock injects a custom time source (useful for tests).
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh disables background refresh scheduling.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) { c.background = false }
}

// Keyfunc returns a jwt.Keyfunc backed by the cache.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	if ctx == nil {
		ctx = context.Background()
	}

	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		switch {
		case kid == "":
			return nil, errors.New("auth: token missing kid header")
		case token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg():
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for the provided kid, refreshing the JWKS if required.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	if c.stale(now) {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if key, ok := c.lookupKey(kid); ok {
		if c.prefetchDue(now) {
			c.refreshInBackground()
		}
		return key, nil
	}

	// An unknown kid usually means Google rotated keys; force a refresh and
	// retry once.
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.lookupKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) lookupKey(kid string) (any, bool) {
	c.mu.RLock()
	jwk, ok := c.byID[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case len(c.byID) == 0:
		return true
	case c.validUntil.IsZero():
		return false
	default:
		return !now.Before(c.validUntil)
	}
}

func (c *JWKSCache) prefetchDue(now time.Time) bool {
	if !c.background {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.prefetchAt.IsZero(), c.validUntil.IsZero(), now.After(c.validUntil):
		return false
	default:
		return !now.Before(c.prefetchAt)
	}
}

func (c *JWKSCache) refreshInBackground() {
	if !c.background || !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		if err := c.refresh(context.Background()); err != nil && c.logger != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := c.boundedContext(ctx)
	defer cancel()

	keys, validity, err := c.fetchKeySet(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	c.mu.Lock()
	c.byID = keys
	c.validUntil = now.Add(validity)
	// Refresh in the background halfway through the validity window so
	// request paths rarely pay the fetch latency.
	c.prefetchAt = now.Add(validity / 2)
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("auth: refreshed jwks (%d keys, valid for %s)", len(keys), validity)
	}
	return nil
}

// boundedContext applies the configured refresh timeout, defaulting a nil
// context to background.
func (c *JWKSCache) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.refreshTimeout > 0 {
		return context.WithTimeout(ctx, c.refreshTimeout)
	}
	return ctx, func() {}
}

// fetchKeySet downloads and decodes the JWKS document, returning the usable
// keys indexed by kid and how long they may be cached.
func (c *JWKSCache) fetchKeySet(ctx context.Context) (map[string]jose.JSONWebKey, time.Duration, error) {
	resp, err := c.getJWKS(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, 0, fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}
	return keys, c.responseValidity(resp), nil
}

func (c *JWKSCache) getJWKS(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}
	return resp, nil
}

// responseValidity derives how long the fetched key set may be cached,
// preferring Cache-Control max-age, then Expires, then the fallback interval.
func (c *JWKSCache) responseValidity(resp *http.Response) time.Duration {
	validity := c.refreshInterval
	if maxAge := cacheMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}
	if expires := resp.Header.Get("Expires"); expires != "" {
		if ts, err := http.ParseTime(expires); err == nil {
			if delta := ts.Sub(c.now()); delta > 0 {
				validity = delta
			}
		}
	}
	if validity <= 0 {
		validity = defaultJWKSRefreshInterval
	}
	return validity
}

func cacheMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		value, found := strings.CutPrefix(strings.ToLower(strings.TrimSpace(directive)), "max-age=")
		if !found {
			continue
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// OIDCValidator validates Google-signed OIDC and IAP tokens using a JWKS
// cache. Cloud Scheduler presents such tokens when it calls the quotation
// expiry job.
type OIDCValidator struct {
	cache *JWKSCache

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	validator := &OIDCValidator{cache: cache, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = recorder }
}

// WithOIDCClock injects a custom clock (primarily for testing).
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// ServiceIdentity captures details about the authenticated service principal.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	Token    *jwt.Token
	Claims   map[string]any
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// oidcRejection describes why a token failed verification and how to report it.
type oidcRejection struct {
	status  int
	code    string
	message string
	reason  string
}

// RequireOIDC guards internal endpoints with Google-signed OIDC or IAP tokens.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	wantAudience := strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			identity, rejected := v.verifyRequest(r, wantAudience, allowedIssuers)
			if rejected != nil {
				v.record(ctx, false, rejected.reason, start)
				respondAuthError(w, rejected.status, rejected.code, rejected.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) verifyRequest(r *http.Request, wantAudience string, allowedIssuers map[string]struct{}) (*ServiceIdentity, *oidcRejection) {
	if wantAudience == "" {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "oidc audience not configured", "audience_not_configured"}
	}

	rawToken, source := oidcTokenFromRequest(r)
	if rawToken == "" {
		return nil, &oidcRejection{http.StatusUnauthorized, "unauthenticated", "oidc token missing", "token_missing"}
	}

	if v == nil || v.cache == nil {
		return nil, &oidcRejection{http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable", "cache_unavailable"}
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(rawToken, claims, v.cache.Keyfunc(r.Context()))
	if err != nil {
		rejection := &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc token verification failed", "token_invalid"}
		if errors.Is(err, ErrJWKSFetchFailed) {
			rejection.status, rejection.reason = http.StatusServiceUnavailable, "jwks_unavailable"
		}
		v.logf("auth: oidc verification failed (%s): %v", rejection.reason, err)
		return nil, rejection
	}

	issuer, _ := claims["iss"].(string)
	if len(allowedIssuers) > 0 {
		if _, ok := allowedIssuers[issuer]; !ok {
			v.logf("auth: oidc issuer mismatch, got %q", issuer)
			return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch", "issuer_mismatch"}
		}
	}

	if !slices.Contains(claimAudiences(claims), wantAudience) {
		v.logf("auth: oidc audience mismatch, expected %q (hdr=%s)", wantAudience, source)
		return nil, &oidcRejection{http.StatusUnauthorized, "invalid_token", "oidc audience mismatch", "audience_mismatch"}
	}

	email, _ := claims["email"].(string)
	subject, _ := claims["sub"].(string)

	return &ServiceIdentity{
		Subject:  subject,
		Email:    email,
		Issuer:   issuer,
		Audience: wantAudience,
		Token:    token,
		Claims:   maps.Clone(map[string]any(claims)),
	}, nil
}

func (v *OIDCValidator) logf(format string, args ...any) {
	if v != nil && v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
}

func oidcTokenFromRequest(r *http.Request) (token string, source string) {
	if r == nil {
		return "", ""
	}
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer, "authorization"
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}

func claimAudiences(claims jwt.MapClaims) []string {
	var out []string
	appendOne := func(item string) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	switch aud := claims["aud"].(type) {
	case string:
		appendOne(aud)
	case []string:
		for _, item := range aud {
			appendOne(item)
		}
	case []any:
		for _, item := range aud {
			if str, ok := item.(string); ok {
				appendOne(str)
			}
		}
	}
	return out
}
