package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/services"
)

func (h *MeHandlers) quoteDraftRoutes(r chi.Router) {
	r.Get("/", h.getQuoteDraft)
	r.Delete("/", h.clearQuoteDraft)
	r.Post("/items", h.addDraftItem)
	r.Delete("/items/{itemIndex}", h.removeDraftItem)
	r.Put("/items/{itemIndex}/sizes", h.updateDraftSizes)
	r.Post("/items/{itemIndex}/customizations", h.addDraftCustomization)
	r.Delete("/items/{itemIndex}/customizations/{customizationIndex}", h.removeDraftCustomization)
}

func (h *MeHandlers) getQuoteDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	draft, err := h.drafts.GetDraft(ctx, identity.UID)
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDraftPayload(draft))
}

func (h *MeHandlers) clearQuoteDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.drafts.ClearDraft(ctx, identity.UID); err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addDraftItemPayload struct {
	ProductID     string         `json:"product_id"`
	SizeBreakdown map[string]int `json:"size_breakdown"`
}

func (h *MeHandlers) addDraftItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload addDraftItemPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	draft, err := h.drafts.AddItem(ctx, services.AddDraftItemCommand{
		ClientID:      identity.UID,
		ProductID:     payload.ProductID,
		SizeBreakdown: payload.SizeBreakdown,
	})
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDraftPayload(draft))
}

func (h *MeHandlers) removeDraftItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	index, ok := parseIndexParam(ctx, w, r, "itemIndex")
	if !ok {
		return
	}

	draft, err := h.drafts.RemoveItem(ctx, services.RemoveDraftItemCommand{
		ClientID:  identity.UID,
		ItemIndex: index,
	})
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDraftPayload(draft))
}

type updateDraftSizesPayload struct {
	SizeBreakdown map[string]int `json:"size_breakdown"`
}

func (h *MeHandlers) updateDraftSizes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	index, ok := parseIndexParam(ctx, w, r, "itemIndex")
	if !ok {
		return
	}

	var payload updateDraftSizesPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	draft, err := h.drafts.UpdateSizeBreakdown(ctx, services.UpdateSizeBreakdownCommand{
		ClientID:      identity.UID,
		ItemIndex:     index,
		SizeBreakdown: payload.SizeBreakdown,
	})
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDraftPayload(draft))
}

type addCustomizationPayload struct {
	Technique         string `json:"technique"`
	LocationID        string `json:"location_id"`
	SizeName          string `json:"size_name"`
	DesignURL         string `json:"design_url"`
	DesignDescription string `json:"design_description"`
}

func (h *MeHandlers) addDraftCustomization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	index, ok := parseIndexParam(ctx, w, r, "itemIndex")
	if !ok {
		return
	}

	var payload addCustomizationPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	draft, err := h.drafts.AddCustomization(ctx, services.AddCustomizationCommand{
		ClientID:          identity.UID,
		ItemIndex:         index,
		Technique:         domain.PrintTechnique(payload.Technique),
		LocationID:        payload.LocationID,
		SizeName:          payload.SizeName,
		DesignURL:         payload.DesignURL,
		DesignDescription: payload.DesignDescription,
	})
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDraftPayload(draft))
}

func (h *MeHandlers) removeDraftCustomization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemIndex, ok := parseIndexParam(ctx, w, r, "itemIndex")
	if !ok {
		return
	}
	custIndex, ok := parseIndexParam(ctx, w, r, "customizationIndex")
	if !ok {
		return
	}

	draft, err := h.drafts.RemoveCustomization(ctx, services.RemoveCustomizationCommand{
		ClientID:           identity.UID,
		ItemIndex:          itemIndex,
		CustomizationIndex: custIndex,
	})
	if err != nil {
		writeDraftError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDraftPayload(draft))
}

// parseIndexParam reads a non-negative integer URL parameter, writing a 400
// response on malformed input.
func parseIndexParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := chi.URLParam(r, name)
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", name+" must be a non-negative integer", http.StatusBadRequest))
		return 0, false
	}
	return index, true
}
