package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/printy-garments/api/internal/repositories"
)

// fakeCounterRepo records every call so tests can assert on the counter IDs
// and configuration the service handed down.
type fakeCounterRepo struct {
	mu sync.Mutex

	nextFn      func(context.Context, string, int64) (int64, error)
	configureFn func(context.Context, string, repositories.CounterConfig) error

	nextIDs    []string
	nextSteps  []int64
	configured []repositories.CounterConfig
}

func (f *fakeCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	f.mu.Lock()
	f.nextIDs = append(f.nextIDs, counterID)
	f.nextSteps = append(f.nextSteps, step)
	fn := f.nextFn
	f.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(ctx, counterID, step)
}

func (f *fakeCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	f.mu.Lock()
	f.configured = append(f.configured, cfg)
	fn := f.configureFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, counterID, cfg)
}

// returnValue wires the fake to hand out a fixed sequence value.
func (f *fakeCounterRepo) returnValue(value int64) {
	f.nextFn = func(context.Context, string, int64) (int64, error) {
		return value, nil
	}
}

func (f *fakeCounterRepo) soleNextID(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.nextIDs) != 1 {
		t.Fatalf("expected one next call, got %d", len(f.nextIDs))
	}
	return f.nextIDs[0]
}

func newCounterService(t *testing.T, repo *fakeCounterRepo, at time.Time) CounterService {
	t.Helper()
	deps := CounterServiceDeps{Repository: repo}
	if !at.IsZero() {
		deps.Clock = func() time.Time { return at }
	}
	svc, err := NewCounterService(deps)
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	return svc
}

func TestCounterServiceNextFormatsAndConfigures(t *testing.T) {
	repo := &fakeCounterRepo{}
	repo.returnValue(42)

	svc := newCounterService(t, repo, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	opts := CounterGenerationOptions{Step: 5, Prefix: "DES-", PadLength: 4}
	value, err := svc.Next(context.Background(), "design", "global", opts)
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	switch {
	case value.Value != 42:
		t.Fatalf("expected raw value 42, got %d", value.Value)
	case value.Formatted != "DES-0042":
		t.Fatalf("expected formatted DES-0042, got %s", value.Formatted)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configured) != 1 {
		t.Fatalf("expected configure called once, got %d", len(repo.configured))
	}
	if step := repo.configured[0].Step; step != 5 {
		t.Fatalf("expected configure step 5, got %d", step)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &fakeCounterRepo{}
	repo.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "limit", nil)
	}

	svc := newCounterService(t, repo, time.Time{})

	_, err := svc.Next(context.Background(), "test", "limit", CounterGenerationOptions{})
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &fakeCounterRepo{}
	repo.returnValue(7)

	svc := newCounterService(t, repo, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	result, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if result != "ORD-2025-000007" {
		t.Fatalf("expected formatted order number, got %s", result)
	}
	if id := repo.soleNextID(t); id != "orders:2025" {
		t.Fatalf("expected counter id orders:2025, got %s", id)
	}
}

func TestCounterServiceNextQuotationNumber(t *testing.T) {
	repo := &fakeCounterRepo{}
	repo.returnValue(153)

	svc := newCounterService(t, repo, time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))

	result, err := svc.NextQuotationNumber(context.Background())
	if err != nil {
		t.Fatalf("next quotation number: %v", err)
	}
	if result != "Q-2026-000153" {
		t.Fatalf("expected formatted quotation number, got %s", result)
	}
	if id := repo.soleNextID(t); id != "quotations:2026" {
		t.Fatalf("expected counter id quotations:2026, got %s", id)
	}
}
