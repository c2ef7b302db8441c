package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	configMu   sync.Mutex
	configured map[string]appliedCounterConfig
}

// appliedCounterConfig remembers which options were already pushed to the
// repository so repeated Next calls skip the Configure round trip.
type appliedCounterConfig struct {
	step    int64
	max     int64
	initial int64
	hasStep bool
	hasMax  bool
	hasInit bool
}

func configSignature(opts CounterGenerationOptions) appliedCounterConfig {
	var sig appliedCounterConfig
	if opts.Step > 0 {
		sig.hasStep = true
		sig.step = opts.Step
	}
	if opts.MaxValue != nil {
		sig.hasMax = true
		sig.max = *opts.MaxValue
	}
	if opts.InitialValue != nil {
		sig.hasInit = true
		sig.initial = *opts.InitialValue
	}
	return sig
}

func (c appliedCounterConfig) empty() bool {
	return !c.hasStep && !c.hasMax && !c.hasInit
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo:       deps.Repository,
		clock:      func() time.Time { return clock().UTC() },
		configured: make(map[string]appliedCounterConfig),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	if scope = strings.TrimSpace(scope); scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name = strings.TrimSpace(name); name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}

	counterID := scope + ":" + name
	if err := s.ensureConfiguration(ctx, counterID, opts); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, translateCounterError(err)
	}

	return CounterValue{Value: value, Formatted: formatCounterValue(s.clock(), value, opts)}, nil
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
	default:
		return err
	}
}

// NextQuotationNumber allocates the next quotation number in the
// Q-<year>-<sequence> series. Sequences restart each year because the
// counter is scoped to the year bucket.
func (s *counterService) NextQuotationNumber(ctx context.Context) (string, error) {
	return s.yearlyNumber(ctx, "quotations", "Q")
}

// NextOrderNumber allocates the next order number in the
// ORD-<year>-<sequence> series.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	return s.yearlyNumber(ctx, "orders", "ORD")
}

func (s *counterService) yearlyNumber(ctx context.Context, scope, prefix string) (string, error) {
	year := s.clock().Year()
	opts := CounterGenerationOptions{
		Formatter: func(current time.Time, seq int64) string {
			return fmt.Sprintf("%s-%04d-%06d", prefix, current.Year(), seq)
		},
	}
	result, err := s.Next(ctx, scope, fmt.Sprintf("%04d", year), opts)
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func (s *counterService) ensureConfiguration(ctx context.Context, counterID string, opts CounterGenerationOptions) error {
	signature := configSignature(opts)

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if applied, ok := s.configured[counterID]; ok && applied == signature {
		return nil
	}

	if !signature.empty() {
		cfg := repositories.CounterConfig{}
		if signature.hasStep {
			cfg.Step = signature.step
		}
		if signature.hasMax {
			cfg.MaxValue = &signature.max
		}
		if signature.hasInit {
			cfg.InitialValue = &signature.initial
		}
		if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
			return err
		}
	}
	s.configured[counterID] = signature
	return nil
}

func formatCounterValue(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}

	formatted := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}
