package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

// PublicHandlers serves the unauthenticated catalog surface: products,
// personalization pricing configuration, and print locations.
type PublicHandlers struct {
	catalog services.CatalogService
}

func NewPublicHandlers(catalog services.CatalogService) *PublicHandlers {
	return &PublicHandlers{catalog: catalog}
}

// Routes wires the /public endpoints onto the provided router.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/personalization/{technique}", h.getPersonalizationConfig)
	r.Get("/personalization/{technique}/locations", h.listLocations)
	r.Get("/locations", h.listLocations)
}

func (h *PublicHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The public listing only ever shows purchasable garments.
	query := services.ProductListQuery{
		OnlyAvailable: true,
		Pagination:    parsePagination(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		category := domain.ProductCategory(raw)
		query.Category = &category
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildProductPayload))
}

func (h *PublicHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *PublicHandlers) getPersonalizationConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := h.catalog.GetPersonalizationConfig(ctx, domain.PrintTechnique(chi.URLParam(r, "technique")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigPayload(cfg))
}

func (h *PublicHandlers) listLocations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	technique := chi.URLParam(r, "technique")
	if technique == "" {
		technique = strings.TrimSpace(r.URL.Query().Get("technique"))
	}
	if technique == "" {
		technique = string(domain.TechniqueDTF)
	}

	locations, err := h.catalog.ListLocations(ctx, domain.PrintTechnique(technique))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"locations": buildLocationPayloads(locations),
	})
}
