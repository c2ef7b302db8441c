package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/services"
)

const maxExpireBatchSize = 1000

// InternalHandlers serves the scheduler-triggered job endpoints. Callers are
// authenticated by the OIDC middleware mounted on the /internal group, not
// by Firebase tokens.
type InternalHandlers struct {
	quotations services.QuotationService
}

func NewInternalHandlers(quotations services.QuotationService) *InternalHandlers {
	return &InternalHandlers{quotations: quotations}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/quotations/expire", h.expireQuotations)
}

func (h *InternalHandlers) expireQuotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchSize := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("batch_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxExpireBatchSize {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "batch_size must be between 1 and 1000", http.StatusBadRequest))
			return
		}
		batchSize = parsed
	}

	count, err := h.quotations.ExpireStale(ctx, batchSize)
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}

	if count == 0 {
		writeJSONResponse(w, http.StatusOK, map[string]any{"message": "no expired quotations"})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"expiredCount": count})
}
