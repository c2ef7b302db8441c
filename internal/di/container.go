package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/platform/config"
	"github.com/printy-garments/api/internal/repositories"
	"github.com/printy-garments/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Catalog    services.CatalogService
	Users      services.UserService
	Drafts     services.QuoteDraftService
	Quotations services.QuotationService
	Orders     services.OrderService
	Designs    services.DesignService
	Counters   services.CounterService
	System     services.SystemService
}

// Dependencies carries the external collaborators the service layer needs
// beyond the repository registry: identity lookup, object storage, and the
// event publishers.
type Dependencies struct {
	Firebase        auth.UserGetter
	Signer          services.UploadURLSigner
	DesignsBucket   string
	Proofs          services.ProofStore
	QuotationEvents services.QuotationEventPublisher
	OrderEvents     services.OrderEventPublisher
	Build           services.BuildInfo
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides Firestore-backed registries, while tests can supply in-memory
// ones.
func NewContainer(cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources held by the repository layer.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, deps Dependencies) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Configs:  reg.PersonalizationConfigs(),
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:    reg.Users(),
		Firebase: deps.Firebase,
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	draftSvc, err := services.NewQuoteDraftService(services.QuoteDraftServiceDeps{
		Drafts:   reg.QuoteDrafts(),
		Products: reg.Products(),
		Configs:  reg.PersonalizationConfigs(),
		Pricing:  services.NewPricingEngine(),
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote draft service: %w", err)
	}
	svc.Drafts = draftSvc

	quotationSvc, err := services.NewQuotationService(services.QuotationServiceDeps{
		Quotations: reg.Quotations(),
		Orders:     reg.Orders(),
		Drafts:     reg.QuoteDrafts(),
		Users:      reg.Users(),
		Counters:   counterSvc,
		UnitOfWork: reg,
		Events:     deps.QuotationEvents,
		Clock:      clock,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quotation service: %w", err)
	}
	svc.Quotations = quotationSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: reg.Orders(),
		Proofs: deps.Proofs,
		Events: deps.OrderEvents,
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	designSvc, err := services.NewDesignService(services.DesignServiceDeps{
		Designs: reg.Designs(),
		Signer:  deps.Signer,
		Bucket:  deps.DesignsBucket,
		Clock:   clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build design service: %w", err)
	}
	svc.Designs = designSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
			Counters:         counterSvc,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
