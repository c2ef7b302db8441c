package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
	"github.com/printy-garments/api/internal/repositories"
)

const countersCollection = "counters"

type counterDoc struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// effectiveStep picks the increment for this allocation: an explicit step
// wins, then the step stored on the counter, then 1.
func (d counterDoc) effectiveStep(step int64) int64 {
	switch {
	case step > 0:
		return step
	case d.Step > 0:
		return d.Step
	default:
		return 1
	}
}

// CounterRepository allocates monotonically increasing values inside
// Firestore transactions. Quotation and order numbers come from per-year
// counter documents in this collection.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDoc]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDoc](provider, countersCollection, nil, nil),
	}, nil
}

func invalidCounterInput(message string) error {
	return repositories.NewCounterError(repositories.CounterErrorInvalidInput, message, nil)
}

// Next increments the counter and returns the new value. The transaction
// guarantees two concurrent submits never receive the same number.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, invalidCounterInput("counter id is required")
	}
	if step < 0 {
		return 0, invalidCounterInput(fmt.Sprintf("step must be positive, got %d", step))
	}

	now := time.Now().UTC()
	var allocated int64

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			doc := counterDoc{UpdatedAt: now}
			doc.Step = doc.effectiveStep(step)
			doc.CurrentValue = doc.Step
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			allocated = doc.CurrentValue
			return nil
		}
		if err != nil {
			return err
		}

		var doc counterDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}

		increment := doc.effectiveStep(step)
		next := doc.CurrentValue + increment
		if doc.MaxValue != nil && next > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted,
				fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}

		doc.CurrentValue = next
		doc.Step = increment
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		allocated = next
		return nil
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return allocated, nil
}

// Configure adjusts a counter's step, ceiling or current value, used by the
// admin tooling when seeding a new year.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return invalidCounterInput("counter id is required")
	}

	payload := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
