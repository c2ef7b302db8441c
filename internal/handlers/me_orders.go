package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/services"
)

// maxProofUploadBytes bounds the multipart request carrying a payment proof.
// The service enforces its own per-file limit on top.
const maxProofUploadBytes = 12 << 20

func (h *MeHandlers) orderRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payment-proof", h.attachPaymentProof)
}

func (h *MeHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := services.OrderListQuery{
		Actor:         actorFromIdentity(identity),
		Status:        parseOrderStatuses(r),
		CreatedAfter:  parseTimeParam(r, "created_after"),
		CreatedBefore: parseTimeParam(r, "created_before"),
		Pagination:    parsePagination(r),
	}

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildOrderPayload))
}

func (h *MeHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// attachPaymentProof accepts a multipart form with a single "proof" file
// part. The file streams through to storage without buffering in memory.
func (h *MeHandlers) attachPaymentProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.proofLimiter != nil && !h.proofLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many proof uploads; retry later", http.StatusTooManyRequests))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form with a proof file is required", http.StatusBadRequest))
		return
	}

	file, header, err := r.FormFile("proof")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof file part is required", http.StatusBadRequest))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	order, err := h.orders.AttachPaymentProof(ctx, services.AttachPaymentProofCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		Actor:       actorFromIdentity(identity),
		FileName:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		Body:        file,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func parseOrderStatuses(r *http.Request) []domain.OrderStatus {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]domain.OrderStatus, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statuses = append(statuses, domain.OrderStatus(trimmed))
		}
	}
	return statuses
}
