package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

type stubCatalogService struct {
	listFn      func(ctx context.Context, filter services.ProductListQuery) (domain.CursorPage[domain.Product], error)
	getFn       func(ctx context.Context, productID string) (domain.Product, error)
	configFn    func(ctx context.Context, technique domain.PrintTechnique) (domain.PersonalizationConfig, error)
	locationsFn func(ctx context.Context, technique domain.PrintTechnique) ([]domain.PrintLocation, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListQuery) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.Product{ID: productID}, nil
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (domain.Product, error) {
	return cmd.Product, nil
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (domain.Product, error) {
	return cmd.Product, nil
}

func (s *stubCatalogService) ArchiveProduct(ctx context.Context, productID string) (domain.Product, error) {
	return domain.Product{ID: productID, Available: false}, nil
}

func (s *stubCatalogService) GetPersonalizationConfig(ctx context.Context, technique domain.PrintTechnique) (domain.PersonalizationConfig, error) {
	if s.configFn != nil {
		return s.configFn(ctx, technique)
	}
	return domain.PersonalizationConfig{Technique: technique}, nil
}

func (s *stubCatalogService) UpsertPersonalizationConfig(ctx context.Context, cmd services.UpsertPersonalizationConfigCommand) (domain.PersonalizationConfig, error) {
	return cmd.Config, nil
}

func (s *stubCatalogService) ListLocations(ctx context.Context, technique domain.PrintTechnique) ([]domain.PrintLocation, error) {
	if s.locationsFn != nil {
		return s.locationsFn(ctx, technique)
	}
	return nil, nil
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func newPublicTestRouter(catalog services.CatalogService) chi.Router {
	h := NewPublicHandlers(catalog)
	r := chi.NewRouter()
	r.Route("/public", h.Routes)
	return r
}

func TestPublicListProductsOnlyAvailable(t *testing.T) {
	var captured services.ProductListQuery
	catalog := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListQuery) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{Items: []domain.Product{{
				ID:        "prd_1",
				Name:      "Classic Hoodie",
				Category:  domain.CategoryHoodie,
				BasePrice: 35000,
				Available: true,
			}}}, nil
		},
	}
	router := newPublicTestRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/public/products?category=hoodie", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.OnlyAvailable {
		t.Fatalf("public listing must filter to available products")
	}
	if captured.Category == nil || *captured.Category != domain.CategoryHoodie {
		t.Fatalf("expected hoodie category filter, got %v", captured.Category)
	}

	var body listPayload[productPayload]
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].BasePrice != 35000 {
		t.Fatalf("unexpected products payload: %+v", body)
	}
}

func TestPublicGetProductNotFoundMapsTo404(t *testing.T) {
	catalog := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, services.ErrCatalogProductNotFound
		},
	}
	router := newPublicTestRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/public/products/prd_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPublicPersonalizationConfig(t *testing.T) {
	catalog := &stubCatalogService{
		configFn: func(ctx context.Context, technique domain.PrintTechnique) (domain.PersonalizationConfig, error) {
			return domain.PersonalizationConfig{
				Technique:             technique,
				Sizes:                 []domain.PrintSize{{Name: "CARTA", WidthCM: 21.5, HeightCM: 28, Price: 9000}},
				MaxUnitsForFixedPrice: 50,
			}, nil
		},
	}
	router := newPublicTestRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/public/personalization/DTF", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body personalizationConfigPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Technique != "DTF" {
		t.Fatalf("expected DTF config, got %s", body.Technique)
	}
	if len(body.Sizes) != 1 || body.Sizes[0].Price != 9000 {
		t.Fatalf("unexpected sizes payload: %+v", body.Sizes)
	}
	if body.MaxUnitsForFixedPrice != 50 {
		t.Fatalf("expected fixed-price cap 50, got %d", body.MaxUnitsForFixedPrice)
	}
}

func TestPublicLocationsDefaultsToDTF(t *testing.T) {
	var captured domain.PrintTechnique
	catalog := &stubCatalogService{
		locationsFn: func(ctx context.Context, technique domain.PrintTechnique) ([]domain.PrintLocation, error) {
			captured = technique
			return []domain.PrintLocation{{ID: "pecho", Name: "Pecho", MaxWidthCM: 28, MaxHeightCM: 35}}, nil
		},
	}
	router := newPublicTestRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/public/locations", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured != domain.TechniqueDTF {
		t.Fatalf("expected DTF default, got %s", captured)
	}
}
