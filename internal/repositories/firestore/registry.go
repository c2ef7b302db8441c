package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
	"github.com/printy-garments/api/internal/repositories"
)

// Registry bundles every Firestore-backed repository behind the
// repositories.Registry interface, sharing one provider and exposing a
// transactional unit of work.
type Registry struct {
	provider *pfirestore.Provider

	products *ProductRepository
	configs  *PersonalizationConfigRepository
	users    *UserRepository
	drafts   *QuoteDraftRepository
	quotes   *QuotationRepository
	orders   *OrderRepository
	designs  *DesignRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry over a shared provider.
// The health repository is optional until readiness wiring happens.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	configs, err := NewPersonalizationConfigRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	drafts, err := NewQuoteDraftRepository(provider)
	if err != nil {
		return nil, err
	}
	quotes, err := NewQuotationRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	designs, err := NewDesignRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		products: products,
		configs:  configs,
		users:    users,
		drafts:   drafts,
		quotes:   quotes,
		orders:   orders,
		designs:  designs,
		counters: counters,
		health:   health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside one Firestore transaction. Repositories called
// with the derived context join the transaction, so multi-document writes
// such as quotation approval commit or fail as a unit.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTransaction(ctx, tx))
	})
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) PersonalizationConfigs() repositories.PersonalizationConfigRepository {
	return r.configs
}

func (r *Registry) Users() repositories.UserRepository             { return r.users }
func (r *Registry) QuoteDrafts() repositories.QuoteDraftRepository { return r.drafts }
func (r *Registry) Quotations() repositories.QuotationRepository   { return r.quotes }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Designs() repositories.DesignRepository         { return r.designs }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }
