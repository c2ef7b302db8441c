package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

func (h *MeHandlers) quotationRoutes(r chi.Router) {
	r.Get("/", h.listQuotations)
	r.Post("/", h.submitQuotation)
	r.Get("/{quotationID}", h.getQuotation)
}

type submitQuotationPayload struct {
	DeliveryPreference string `json:"delivery_preference"`
	EstimatedDaysNote  string `json:"estimated_days_note"`
}

func (h *MeHandlers) submitQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	// Submission takes no mandatory body: small-volume quotes need no
	// delivery preference.
	var payload submitQuotationPayload
	if r.ContentLength > 0 {
		if !decodeJSONBody(ctx, w, r, &payload) {
			return
		}
	}

	quotation, err := h.quotations.Submit(ctx, services.SubmitQuotationCommand{
		ClientID:           identity.UID,
		DeliveryPreference: domain.DeliveryPreference(payload.DeliveryPreference),
		EstimatedDaysNote:  payload.EstimatedDaysNote,
	})
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildQuotationPayload(quotation))
}

func (h *MeHandlers) listQuotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := services.QuotationListQuery{
		Actor:         actorFromIdentity(identity),
		Status:        parseQuotationStatuses(r),
		CreatedAfter:  parseTimeParam(r, "created_after"),
		CreatedBefore: parseTimeParam(r, "created_before"),
		Pagination:    parsePagination(r),
	}

	page, err := h.quotations.ListQuotations(ctx, query)
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildQuotationPayload))
}

func (h *MeHandlers) getQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	quotation, err := h.quotations.GetQuotation(ctx, services.GetQuotationCommand{
		QuotationID: chi.URLParam(r, "quotationID"),
		Actor:       actorFromIdentity(identity),
	})
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildQuotationPayload(quotation))
}

func parseQuotationStatuses(r *http.Request) []domain.QuotationStatus {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]domain.QuotationStatus, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statuses = append(statuses, domain.QuotationStatus(trimmed))
		}
	}
	return statuses
}
