package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

type productInput struct {
	ID                 string                `json:"id"`
	Name               string                `json:"name"`
	Reference          string                `json:"reference"`
	Color              string                `json:"color"`
	Category           string                `json:"category"`
	Fit                string                `json:"fit"`
	Material           string                `json:"material"`
	WeightGSM          int                   `json:"weight_gsm"`
	Images             []string              `json:"images"`
	BasePrice          int64                 `json:"base_price"`
	Available          bool                  `json:"available"`
	MaxDiscountPercent float64               `json:"max_discount_percent"`
	SizeChart          []sizeChartRowPayload `json:"size_chart"`
	Features           []string              `json:"features"`
	Description        string                `json:"description"`
}

func (p productInput) toDomain() domain.Product {
	chart := make([]domain.SizeChartRow, 0, len(p.SizeChart))
	for _, row := range p.SizeChart {
		chart = append(chart, domain.SizeChartRow{
			Size:   row.Size,
			Chest:  row.Chest,
			Length: row.Length,
			Sleeve: row.Sleeve,
		})
	}
	return domain.Product{
		ID:                 p.ID,
		Name:               p.Name,
		Reference:          p.Reference,
		Color:              p.Color,
		Category:           domain.ProductCategory(p.Category),
		Fit:                domain.ProductFit(p.Fit),
		Material:           p.Material,
		WeightGSM:          p.WeightGSM,
		Images:             p.Images,
		BasePrice:          p.BasePrice,
		Available:          p.Available,
		MaxDiscountPercent: p.MaxDiscountPercent,
		SizeChart:          chart,
		Features:           p.Features,
		Description:        p.Description,
	}
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := services.ProductListQuery{Pagination: parsePagination(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		category := domain.ProductCategory(raw)
		query.Category = &category
	}
	if r.URL.Query().Get("only_available") == "true" {
		query.OnlyAvailable = true
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildProductPayload))
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload productInput
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.UpsertProductCommand{
		Product: payload.toDomain(),
		ActorID: identity.UID,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *AdminHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload productInput
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	product := payload.toDomain()
	product.ID = chi.URLParam(r, "productID")

	updated, err := h.catalog.UpdateProduct(ctx, services.UpsertProductCommand{
		Product: product,
		ActorID: identity.UID,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(updated))
}

func (h *AdminHandlers) archiveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	product, err := h.catalog.ArchiveProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *AdminHandlers) getPersonalizationConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := h.catalog.GetPersonalizationConfig(ctx, domain.PrintTechnique(chi.URLParam(r, "technique")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigPayload(cfg))
}

type personalizationConfigInput struct {
	Sizes                 []printSizePayload     `json:"sizes"`
	MaxUnitsForFixedPrice int                    `json:"max_units_for_fixed_price"`
	VolumeTiers           []volumeTierPayload    `json:"volume_tiers"`
	Locations             []printLocationPayload `json:"locations"`
}

func (h *AdminHandlers) upsertPersonalizationConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload personalizationConfigInput
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	cfg := domain.PersonalizationConfig{
		Technique:             domain.PrintTechnique(chi.URLParam(r, "technique")),
		MaxUnitsForFixedPrice: payload.MaxUnitsForFixedPrice,
	}
	for _, size := range payload.Sizes {
		cfg.Sizes = append(cfg.Sizes, domain.PrintSize{
			Name:     size.Name,
			WidthCM:  size.WidthCM,
			HeightCM: size.HeightCM,
			Price:    size.Price,
		})
	}
	for _, tier := range payload.VolumeTiers {
		cfg.VolumeTiers = append(cfg.VolumeTiers, domain.VolumeTier{
			MinMeters:  tier.MinMeters,
			MaxMeters:  tier.MaxMeters,
			PricePerM2: tier.PricePerM2,
		})
	}
	for _, location := range payload.Locations {
		cfg.Locations = append(cfg.Locations, domain.PrintLocation{
			ID:          location.ID,
			Name:        location.Name,
			MaxWidthCM:  location.MaxWidthCM,
			MaxHeightCM: location.MaxHeightCM,
			Description: location.Description,
		})
	}

	updated, err := h.catalog.UpsertPersonalizationConfig(ctx, services.UpsertPersonalizationConfigCommand{
		Config:  cfg,
		ActorID: identity.UID,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildConfigPayload(updated))
}
