package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

type routerStubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *routerStubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func (s *routerStubSystemService) NextCounterValue(context.Context, services.CounterCommand) (int64, error) {
	return 0, nil
}

func routerGet(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func routerErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func healthyRouter(t *testing.T) http.Handler {
	t.Helper()
	now := time.Date(2026, 2, 17, 8, 30, 0, 0, time.UTC)

	report := services.SystemHealthReport{Status: domain.HealthStatusOK, Uptime: 5 * time.Second, GeneratedAt: now}
	report.Checks = map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}}

	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&routerStubSystemService{report: report}),
		WithHealthClock(func() time.Time { return now }),
	)
	return NewRouter(WithHealthHandlers(healthHandlers))
}

func TestNewRouter_DefaultMounts(t *testing.T) {
	router := healthyRouter(t)

	t.Run("healthz", func(t *testing.T) {
		rec := routerGet(router, "/healthz")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		if rec := routerGet(router, "/readyz"); rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("default not implemented group", func(t *testing.T) {
		rec := routerGet(router, "/api/v1/public")
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rec.Code)
		}
		if code := routerErrorCode(t, rec); code != "not_implemented" {
			t.Fatalf("expected not_implemented error, got %v", code)
		}
	})
}

func TestNewRouter_WithRegistrars(t *testing.T) {
	router := NewRouter(WithPublicRoutes(func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}))

	if rec := routerGet(router, "/api/v1/public"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
}

func TestNewRouter_NotFound(t *testing.T) {
	router := NewRouter()

	rec := routerGet(router, "/does/not/exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	if code := routerErrorCode(t, rec); code != "route_not_found" {
		t.Fatalf("expected route_not_found error, got %v", code)
	}
}

func TestNewRouter_GroupMiddleware(t *testing.T) {
	markInternal := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test-Middleware", "internal")
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(WithInternalMiddlewares(markInternal))

	rec := routerGet(router, "/api/v1/internal/sample")
	if rec.Header().Get("X-Test-Middleware") != "internal" {
		t.Fatalf("expected internal middleware to set header")
	}
}
