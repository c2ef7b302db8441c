package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

type hmacFixture struct {
	validator *HMACValidator
	metrics   *metricsRecorder
	now       time.Time
}

func newHMACFixture(t *testing.T, provider SecretProvider) hmacFixture {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	metrics := &metricsRecorder{}
	validator := NewHMACValidator(provider, NewInMemoryNonceStore(),
		WithHMACLogger(discardLogger{}),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)
	return hmacFixture{validator: validator, metrics: metrics, now: now}
}

// signedJobRequest builds a request whose signature covers the given body,
// timestamp and nonce using the shared canonical form.
func signedJobRequest(path string, body []byte, secret, timestamp, nonce string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	sum := hmacSum([]byte(secret), buildCanonicalString(req, body, timestamp, nonce))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(sum))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func TestRequireHMAC_Success(t *testing.T) {
	const secretName = "jobs/scheduler"
	const secretValue = "super-secret"

	fx := newHMACFixture(t, mapSecretProvider{secretName: secretValue})

	body := []byte(`{"batchSize":200}`)
	req := signedJobRequest("/internal/jobs/quotations/expire", body, secretValue, fx.now.Format(time.RFC3339), "nonce-123")

	rec := httptest.NewRecorder()
	fx.validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok {
			t.Fatalf("expected hmac metadata in context")
		}
		if meta.SecretName != secretName {
			t.Fatalf("unexpected secret name %q", meta.SecretName)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}
	if outcome := fx.metrics.last(t); !outcome.success {
		t.Fatalf("expected success metric, got %+v", outcome)
	}
}

func TestRequireHMAC_ReplayRejected(t *testing.T) {
	const secretName = "jobs/reporting"
	const secretValue = "another-secret"

	fx := newHMACFixture(t, mapSecretProvider{secretName: secretValue})

	body := []byte(`{"report":"weekly"}`)
	timestamp := fx.now.Format(time.RFC3339)

	handler := fx.validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, signedJobRequest("/internal/jobs/reports/weekly", body, secretValue, timestamp, "nonce-replay"))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, signedJobRequest("/internal/jobs/reports/weekly", body, secretValue, timestamp, "nonce-replay"))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected with 401, got %d", replay.Code)
	}
}

func TestRequireHMAC_SignatureMismatch(t *testing.T) {
	const secretName = "jobs/delivery-sync"
	const secretValue = "delivery-secret"

	fx := newHMACFixture(t, mapSecretProvider{secretName: secretValue})
	timestamp := fx.now.Format(time.RFC3339)

	// Sign one body, then send a different one under the same headers.
	signed := signedJobRequest("/internal/jobs/deliveries/sync", []byte(`{"delivery":"scheduled"}`), secretValue, timestamp, "nonce-delivery")
	tampered := httptest.NewRequest(http.MethodPost, "/internal/jobs/deliveries/sync", bytes.NewReader([]byte(`{"delivery":"completed"}`)))
	tampered.Header = signed.Header.Clone()

	rec := httptest.NewRecorder()
	fx.validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be invoked on signature mismatch")
	})).ServeHTTP(rec, tampered)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on signature mismatch, got %d", rec.Code)
	}
}

func TestRequireHMAC_TimestampSkewRejected(t *testing.T) {
	const secretName = "jobs/cleanup"
	const secretValue = "cleanup-secret"

	fx := newHMACFixture(t, mapSecretProvider{secretName: secretValue})

	stale := fx.now.Add(-10 * time.Minute).Format(time.RFC3339)
	req := signedJobRequest("/internal/jobs/cleanup", []byte(`{"job":"done"}`), secretValue, stale, "nonce-old")

	rec := httptest.NewRecorder()
	fx.validator.RequireHMAC(secretName)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called when timestamp is skewed")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on timestamp skew, got %d", rec.Code)
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	fx := newHMACFixture(t, SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret unavailable")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/test", bytes.NewReader(nil))
	rec := httptest.NewRecorder()

	fx.validator.RequireHMAC("missing/secret")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run when secret unavailable")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rec.Code)
	}
}

func TestRequireHMACResolver(t *testing.T) {
	const secretName = "jobs/scheduler"
	const secretValue = "resolver-secret"

	fx := newHMACFixture(t, mapSecretProvider{secretName: secretValue})

	req := signedJobRequest("/internal/jobs/quotations/expire", []byte(`{"event":"test"}`), secretValue, fx.now.Format(time.RFC3339), "resolver-nonce")

	rec := httptest.NewRecorder()
	fx.validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return secretName, true
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from resolver middleware, got %d", rec.Code)
	}

	// Unknown provider should fail fast.
	unknown := httptest.NewRecorder()
	fx.validator.RequireHMACResolver(func(*http.Request) (string, bool) {
		return "", false
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run for unknown provider")
	})).ServeHTTP(unknown, httptest.NewRequest(http.MethodPost, "/internal/jobs/unknown", nil))

	if unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown provider, got %d", unknown.Code)
	}
}
