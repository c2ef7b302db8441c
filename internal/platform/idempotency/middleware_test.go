package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, time.March, 9, 15, 30, 0, 0, time.UTC)

// submitRequest builds a typical mutating request; the body defaults to a
// delivery note payload unless overridden.
func submitRequest(key, body string) *http.Request {
	if body == "" {
		body = `{"notes":"entrega en bodega"}`
	}
	req := httptest.NewRequest(http.MethodPost, "/me/quotations/qt-123/submit", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handlerCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	})

	rec := httptest.NewRecorder()
	middleware(next).ServeHTTP(rec, submitRequest("", ""))

	if handlerCalled {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("expected idempotency_key_required, got %s", code)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("submit-qt-123-a", ""))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, submitRequest("submit-qt-123-a", ""))

	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	switch {
	case replay.Code != http.StatusCreated:
		t.Fatalf("expected replayed status 201, got %d", replay.Code)
	case replay.Header().Get(replayHeaderName) != "true":
		t.Fatalf("expected replay header to be present")
	case replay.Header().Get("Content-Type") != "application/json":
		t.Fatalf("expected content-type json, got %s", replay.Header().Get("Content-Type"))
	case replay.Body.String() != first.Body.String():
		t.Fatalf("expected response body %s, got %s", first.Body.String(), replay.Body.String())
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("same-key", ""))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", first.Code)
	}

	// Same key, different payload.
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("same-key", `{"notes":"entrega en oficina"}`))

	if second.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", second.Code)
	}
	if code := decodeErrorCode(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("expected idempotency_key_conflict, got %s", code)
	}
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := submitRequest("pending-key", "")

	// Seed a pending reservation exactly as the middleware would.
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	identity := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, body, identity)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", identity), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("expected idempotency_in_progress, got %s", code)
	}
}

func TestMiddleware_SaveFailureRollsBackReservation(t *testing.T) {
	store := &stubStore{saveErr: errors.New("save failed")}
	middleware := Middleware(store, WithClock(func() time.Time { return fixedTime }))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	middleware(next).ServeHTTP(rec, submitRequest("fail-key", ""))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("expected idempotency_store_error, got %s", code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

// stubStore always hands out fresh reservations and can be told to fail the
// save step so rollback behaviour is observable.
type stubStore struct {
	saveErr  error
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return s.saveErr
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) { return 0, nil }
