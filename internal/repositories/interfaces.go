package repositories

import (
	"context"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	UnitOfWork
	Close(ctx context.Context) error

	Products() ProductRepository
	PersonalizationConfigs() PersonalizationConfigRepository
	Users() UserRepository
	QuoteDrafts() QuoteDraftRepository
	Quotations() QuotationRepository
	Orders() OrderRepository
	Designs() DesignRepository

	Counters() CounterRepository
	Health() HealthRepository
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsConflict() bool
	IsNotFound() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog garments.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// PersonalizationConfigRepository stores one pricing configuration document
// per print technique, keyed by the technique name.
type PersonalizationConfigRepository interface {
	Get(ctx context.Context, technique domain.PrintTechnique) (domain.PersonalizationConfig, error)
	Upsert(ctx context.Context, cfg domain.PersonalizationConfig) error
}

// UserRepository stores account documents keyed by the Firebase UID.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, uid string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.CursorPage[domain.User], error)
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
}

// QuoteDraftRepository stores the single working draft per client, keyed by
// the client UID.
type QuoteDraftRepository interface {
	Get(ctx context.Context, clientID string) (domain.QuoteDraft, error)
	Save(ctx context.Context, draft domain.QuoteDraft) error
	Delete(ctx context.Context, clientID string) error
}

// QuotationRepository persists submitted quotations and owns the bulk
// expiry sweep.
type QuotationRepository interface {
	Insert(ctx context.Context, quotation domain.Quotation) error
	Update(ctx context.Context, quotation domain.Quotation) error
	FindByID(ctx context.Context, quotationID string) (domain.Quotation, error)
	List(ctx context.Context, filter QuotationListFilter) (domain.CursorPage[domain.Quotation], error)
	// ExpireStale transitions every pending_approval quotation whose
	// ExpiresAt is before the cutoff to expired, touching UpdatedAt, and
	// returns the number of documents updated. Safe to re-run.
	ExpireStale(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// OrderRepository persists orders and provides Kanban-style listings.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// DesignRepository stores uploaded artwork metadata.
type DesignRepository interface {
	Insert(ctx context.Context, design domain.UploadedDesign) error
	Update(ctx context.Context, design domain.UploadedDesign) error
	Delete(ctx context.Context, designID string) error
	FindByID(ctx context.Context, designID string) (domain.UploadedDesign, error)
	ListByOwner(ctx context.Context, userID string, filter DesignListFilter) (domain.CursorPage[domain.UploadedDesign], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Category      *domain.ProductCategory
	OnlyAvailable bool
	Pagination    domain.Pagination
}

type UserListFilter struct {
	Role       *domain.Role
	AssignedTo string
	OnlyActive bool
	Pagination domain.Pagination
}

type QuotationListFilter struct {
	ClientID     string
	CommercialID string
	Status       []domain.QuotationStatus
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type OrderListFilter struct {
	ClientID     string
	CommercialID string
	Status       []domain.OrderStatus
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type DesignListFilter struct {
	FileType      *domain.DesignFileType
	IncludePublic bool
	Pagination    domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
