package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
)

const (
	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// SecretProvider resolves the shared secrets configured for internal job
// callers, keyed by the name carried in Security.HMAC.Secrets.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore remembers nonces so a captured request cannot be replayed
// inside the timestamp window.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope. The boolean indicates
	// whether the nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

type nonceKey struct {
	scope string
	nonce string
}

// InMemoryNonceStore keeps nonces in process memory. Suitable for a single
// replica or tests; expired entries are pruned on every use.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[nonceKey]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[nonceKey]time.Time)}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.dropExpiredLocked(now)

	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	key := nonceKey{scope: scope, nonce: nonce}
	if held, replay := s.seen[key]; replay && held.After(now) {
		return false, nil
	}
	s.seen[key] = expiry
	return true, nil
}

func (s *InMemoryNonceStore) dropExpiredLocked(now time.Time) {
	for key, exp := range s.seen {
		if exp.Before(now) {
			delete(s.seen, key)
		}
	}
}

// hmacHeaderSet names the three request headers a signed request carries.
type hmacHeaderSet struct {
	signature string
	timestamp string
	nonce     string
}

// HMACValidator verifies signed requests from trusted internal callers such as job schedulers.
type HMACValidator struct {
	secrets SecretProvider
	nonces  NonceStore

	headers   hmacHeaderSet
	clockSkew time.Duration
	nonceTTL  time.Duration

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		secrets: provider,
		nonces:  nonces,
		headers: hmacHeaderSet{
			signature: defaultSignatureHeader,
			timestamp: defaultTimestampHeader,
			nonce:     defaultNonceHeader,
		},
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
		logger:    log.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) { v.metrics = metrics }
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names used by the middleware.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		for _, override := range []struct {
			value  string
			target *string
		}{
			{signature, &v.headers.signature},
			{timestamp, &v.headers.timestamp},
			{nonce, &v.headers.nonce},
		} {
			if override.value != "" {
				*override.target = override.value
			}
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d <= 0 {
			return
		}
		v.clockSkew = d
	}
}

// WithHMACNonceTTL customises the nonce retention duration.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d <= 0 {
			return
		}
		v.nonceTTL = d
	}
}

// HMACMetadata describes the verification context for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Nonce      string
	Timestamp  time.Time

	Signature    []byte
	RawSignature string
}

type hmacContextKey struct{}

// WithHMACMetadata stores the metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata from the context.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// hmacFailure carries the HTTP response and metric label for a rejected
// request.
type hmacFailure struct {
	status  int
	code    string
	reason  string
	message string
}

func hmacReject(status int, code, reason, message string) *hmacFailure {
	return &hmacFailure{status: status, code: code, reason: reason, message: message}
}

// signatureEnvelope holds the signing headers of an incoming request after
// syntactic validation.
type signatureEnvelope struct {
	rawSignature string
	signature    []byte
	timestampRaw string
	timestamp    time.Time
	nonce        string
}

// RequireHMAC verifies the signature, timestamp and nonce headers against
// the named shared secret before letting the request through.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	scopedSecret := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			meta, fail := v.verify(ctx, r, scopedSecret)
			if fail != nil {
				v.record(ctx, false, fail.reason, start)
				respondAuthError(w, fail.status, fail.code, fail.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(ctx, meta)))
		})
	}
}

// verify runs the full signature check and returns either the verification
// metadata or the failure to respond with.
func (v *HMACValidator) verify(ctx context.Context, r *http.Request, scopedSecret string) (*HMACMetadata, *hmacFailure) {
	if scopedSecret == "" {
		return nil, hmacReject(http.StatusServiceUnavailable, "verification_unavailable", "secret_not_configured", "hmac secret not configured")
	}

	secret, err := v.loadSecret(ctx, scopedSecret)
	if err != nil {
		v.logf("auth: hmac secret lookup failed: %v", err)
		return nil, hmacReject(http.StatusServiceUnavailable, "verification_unavailable", "secret_unavailable", "hmac secret unavailable")
	}

	envelope, fail := v.envelopeFrom(r)
	if fail != nil {
		return nil, fail
	}

	body, err := bufferRequestBody(r)
	if err != nil {
		return nil, hmacReject(http.StatusBadRequest, "invalid_body", "body_unreadable", "unable to read body for signature verification")
	}

	expected := hmacSum(secret, buildCanonicalString(r, body, envelope.timestampRaw, envelope.nonce))
	if !hmac.Equal(envelope.signature, expected) {
		return nil, hmacReject(http.StatusUnauthorized, "signature_mismatch", "signature_mismatch", "signature verification failed")
	}

	if fail := v.consumeNonce(ctx, scopedSecret, envelope); fail != nil {
		return nil, fail
	}

	return &HMACMetadata{
		SecretName:   scopedSecret,
		Timestamp:    envelope.timestamp,
		Nonce:        envelope.nonce,
		Signature:    envelope.signature,
		RawSignature: envelope.rawSignature,
	}, nil
}

// envelopeFrom validates the presence and syntax of the three signing
// headers and checks the timestamp against the allowed skew.
func (v *HMACValidator) envelopeFrom(r *http.Request) (*signatureEnvelope, *hmacFailure) {
	envelope := &signatureEnvelope{
		rawSignature: strings.TrimSpace(r.Header.Get(v.headers.signature)),
		timestampRaw: strings.TrimSpace(r.Header.Get(v.headers.timestamp)),
		nonce:        strings.TrimSpace(r.Header.Get(v.headers.nonce)),
	}

	switch {
	case envelope.rawSignature == "":
		return nil, hmacReject(http.StatusUnauthorized, "signature_missing", "signature_missing", "signature header missing")
	case envelope.timestampRaw == "":
		return nil, hmacReject(http.StatusUnauthorized, "timestamp_missing", "timestamp_missing", "signature timestamp missing")
	}

	timestamp, err := parseSignatureTimestamp(envelope.timestampRaw)
	if err != nil {
		return nil, hmacReject(http.StatusUnauthorized, "timestamp_invalid", "timestamp_invalid", "signature timestamp invalid")
	}
	envelope.timestamp = timestamp
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, hmacReject(http.StatusUnauthorized, "timestamp_skew", "timestamp_skew", "signature timestamp outside allowed window")
	}

	if envelope.nonce == "" {
		return nil, hmacReject(http.StatusUnauthorized, "nonce_missing", "nonce_missing", "signature nonce missing")
	}

	envelope.signature, err = decodeSignature(envelope.rawSignature)
	if err != nil {
		return nil, hmacReject(http.StatusUnauthorized, "signature_invalid", "signature_invalid", "signature encoding invalid")
	}
	return envelope, nil
}

// consumeNonce records the nonce so the same signed request cannot be
// replayed inside the retention window.
func (v *HMACValidator) consumeNonce(ctx context.Context, scope string, envelope *signatureEnvelope) *hmacFailure {
	if v.nonces == nil {
		return hmacReject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_unavailable", "nonce store unavailable")
	}

	ttl := envelope.timestamp.Add(v.nonceTTL)
	if ttl.Before(v.now()) {
		ttl = v.now().Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, scope, envelope.nonce, ttl)
	switch {
	case err != nil:
		v.logf("auth: nonce store error: %v", err)
		return hmacReject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_error", "nonce storage error")
	case !stored:
		return hmacReject(http.StatusUnauthorized, "nonce_replay", "nonce_replay", "duplicate signature nonce")
	}
	return nil
}

// RequireHMACResolver picks the secret per request, for routes where the
// caller identifies itself in the path or a header.
func (v *HMACValidator) RequireHMACResolver(resolver func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				v.record(r.Context(), false, "secret_not_configured", v.now())
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "hmac secret resolver not configured")
				return
			}

			secretName, ok := resolver(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				v.record(r.Context(), false, "provider_unknown", v.now())
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "signing key for caller not recognised")
				return
			}

			v.RequireHMAC(secretName)(next).ServeHTTP(w, r)
		})
	}
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v != nil && v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.secrets == nil {
		return nil, errors.New("auth: secret provider not configured")
	}

	if cached, ok := v.secretCache.Load(name); ok {
		if secret, valid := cached.([]byte); valid && len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}

	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

// bufferRequestBody drains the body for hashing and replaces it so the next
// handler can read it again.
func bufferRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeSignature accepts both base64 and hex encoded signatures.
func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	decoded, b64Err := base64.StdEncoding.DecodeString(value)
	if b64Err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	hash := sha256.Sum256(body)
	parts := []string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}
	return []byte(strings.Join(parts, "\n"))
}

func hmacSum(secret []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
