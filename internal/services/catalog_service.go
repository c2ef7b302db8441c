package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the product does not exist.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogConfigNotFound indicates no pricing configuration exists for the technique.
	ErrCatalogConfigNotFound = errors.New("catalog service: personalization config not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Configs  repositories.PersonalizationConfigRepository
	Clock    func() time.Time
	IDGen    func() string
}

type catalogService struct {
	products repositories.ProductRepository
	configs  repositories.PersonalizationConfigRepository
	clock    func() time.Time
	idGen    func() string
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("catalog service: personalization config repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &catalogService{
		products: deps.Products,
		configs:  deps.Configs,
		clock:    func() time.Time { return clock().UTC() },
		idGen:    idGen,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	filter := repositories.ProductListFilter{
		Category:      query.Category,
		OnlyAvailable: query.OnlyAvailable,
		Pagination: domain.Pagination{
			PageSize:  query.Pagination.PageSize,
			PageToken: strings.TrimSpace(query.Pagination.PageToken),
		},
	}
	return s.products.List(ctx, filter)
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrCatalogProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product := normaliseProduct(cmd.Product)
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}

	now := s.clock()
	if product.ID == "" {
		product.ID = "prd_" + s.idGen()
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product := normaliseProduct(cmd.Product)
	if product.ID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}

	existing, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		return Product{}, err
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// ArchiveProduct hides a product from the catalog without deleting it, so
// existing quotations keep a resolvable reference.
func (s *catalogService) ArchiveProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	if !product.Available {
		return product, nil
	}
	product.Available = false
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) GetPersonalizationConfig(ctx context.Context, technique PrintTechnique) (PersonalizationConfig, error) {
	if technique == "" {
		return PersonalizationConfig{}, fmt.Errorf("%w: technique is required", ErrCatalogInvalidInput)
	}
	cfg, err := s.configs.Get(ctx, technique)
	if err != nil {
		if isNotFound(err) {
			return PersonalizationConfig{}, fmt.Errorf("%w: %s", ErrCatalogConfigNotFound, technique)
		}
		return PersonalizationConfig{}, err
	}
	return cfg, nil
}

func (s *catalogService) UpsertPersonalizationConfig(ctx context.Context, cmd UpsertPersonalizationConfigCommand) (PersonalizationConfig, error) {
	cfg := cmd.Config
	if err := validatePersonalizationConfig(cfg); err != nil {
		return PersonalizationConfig{}, err
	}
	cfg.UpdatedAt = s.clock()
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return PersonalizationConfig{}, err
	}
	return cfg, nil
}

func (s *catalogService) ListLocations(ctx context.Context, technique PrintTechnique) ([]PrintLocation, error) {
	cfg, err := s.GetPersonalizationConfig(ctx, technique)
	if err != nil {
		return nil, err
	}
	locations := make([]PrintLocation, len(cfg.Locations))
	copy(locations, cfg.Locations)
	return locations, nil
}

func normaliseProduct(product Product) Product {
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.Color = strings.TrimSpace(product.Color)
	product.Description = strings.TrimSpace(product.Description)
	for i := range product.Features {
		product.Features[i] = strings.TrimSpace(product.Features[i])
	}
	return product
}

func validateProduct(product Product) error {
	if product.Name == "" {
		return fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if !isKnownProductCategory(product.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, product.Category)
	}
	if !isKnownProductFit(product.Fit) {
		return fmt.Errorf("%w: unknown fit %q", ErrCatalogInvalidInput, product.Fit)
	}
	if product.BasePrice <= 0 {
		return fmt.Errorf("%w: base price must be positive", ErrCatalogInvalidInput)
	}
	if product.MaxDiscountPercent < 0 || product.MaxDiscountPercent > 100 {
		return fmt.Errorf("%w: max discount must be between 0 and 100", ErrCatalogInvalidInput)
	}
	return nil
}

func validatePersonalizationConfig(cfg PersonalizationConfig) error {
	if cfg.Technique == "" {
		return fmt.Errorf("%w: technique is required", ErrCatalogInvalidInput)
	}
	if len(cfg.Sizes) == 0 {
		return fmt.Errorf("%w: at least one print size is required", ErrCatalogInvalidInput)
	}

	seenSizes := make(map[string]struct{}, len(cfg.Sizes))
	for _, size := range cfg.Sizes {
		name := strings.TrimSpace(size.Name)
		if name == "" {
			return fmt.Errorf("%w: print size name is required", ErrCatalogInvalidInput)
		}
		if _, ok := seenSizes[name]; ok {
			return fmt.Errorf("%w: duplicate print size %s", ErrCatalogInvalidInput, name)
		}
		seenSizes[name] = struct{}{}
		if size.WidthCM <= 0 || size.HeightCM <= 0 {
			return fmt.Errorf("%w: print size %s needs positive dimensions", ErrCatalogInvalidInput, name)
		}
		if size.Price < 0 {
			return fmt.Errorf("%w: print size %s price must not be negative", ErrCatalogInvalidInput, name)
		}
	}

	// Tiers must partition [0, inf): the first starts at zero, each tier
	// ends exactly where the next begins, and the last one is unbounded.
	for i, tier := range cfg.VolumeTiers {
		if tier.MinMeters < 0 {
			return fmt.Errorf("%w: tier %d min meters must not be negative", ErrCatalogInvalidInput, i)
		}
		if tier.MaxMeters != nil && *tier.MaxMeters <= tier.MinMeters {
			return fmt.Errorf("%w: tier %d max meters must exceed min meters", ErrCatalogInvalidInput, i)
		}
		if tier.PricePerM2 <= 0 {
			return fmt.Errorf("%w: tier %d price per square meter must be positive", ErrCatalogInvalidInput, i)
		}
		if i == 0 && tier.MinMeters != 0 {
			return fmt.Errorf("%w: first tier must start at 0 meters", ErrCatalogInvalidInput)
		}
		if i > 0 {
			prev := cfg.VolumeTiers[i-1]
			if prev.MaxMeters == nil {
				return fmt.Errorf("%w: tier %d follows an unbounded tier", ErrCatalogInvalidInput, i)
			}
			if *prev.MaxMeters != tier.MinMeters {
				return fmt.Errorf("%w: tier %d must start at %v meters where tier %d ends", ErrCatalogInvalidInput, i, *prev.MaxMeters, i-1)
			}
		}
		if i == len(cfg.VolumeTiers)-1 && tier.MaxMeters != nil {
			return fmt.Errorf("%w: last tier must be unbounded", ErrCatalogInvalidInput)
		}
	}

	seenLocations := make(map[string]struct{}, len(cfg.Locations))
	for _, location := range cfg.Locations {
		id := strings.TrimSpace(location.ID)
		if id == "" {
			return fmt.Errorf("%w: print location id is required", ErrCatalogInvalidInput)
		}
		if _, ok := seenLocations[id]; ok {
			return fmt.Errorf("%w: duplicate print location %s", ErrCatalogInvalidInput, id)
		}
		seenLocations[id] = struct{}{}
		if location.MaxWidthCM <= 0 || location.MaxHeightCM <= 0 {
			return fmt.Errorf("%w: print location %s needs positive bounds", ErrCatalogInvalidInput, id)
		}
	}

	return nil
}

func isKnownProductCategory(category ProductCategory) bool {
	switch category {
	case domain.CategoryTShirt, domain.CategoryHoodie, domain.CategoryTank, domain.CategorySweatshirt, domain.CategoryPolo:
		return true
	default:
		return false
	}
}

func isKnownProductFit(fit domain.ProductFit) bool {
	switch fit {
	case domain.FitOversize, domain.FitRegular, domain.FitSlim:
		return true
	default:
		return false
	}
}
