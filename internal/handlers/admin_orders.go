package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/services"
)

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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

type transitionOrderStatusPayload struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminHandlers) transitionOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload transitionOrderStatusPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFromIdentity(identity),
		Status:  domain.OrderStatus(payload.Status),
		Note:    payload.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type verifyPaymentPayload struct {
	Notes string `json:"notes"`
}

func (h *AdminHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload verifyPaymentPayload
	if r.ContentLength > 0 {
		if !decodeJSONBody(ctx, w, r, &payload) {
			return
		}
	}

	order, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFromIdentity(identity),
		Notes:   payload.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type deliveryWindowInput struct {
	Quantity      int    `json:"quantity"`
	ScheduledDate string `json:"scheduled_date"`
}

type updateDeliveryPayload struct {
	Type     string                `json:"type"`
	Schedule []deliveryWindowInput `json:"schedule"`
}

func (h *AdminHandlers) updateDeliverySchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload updateDeliveryPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	schedule := make([]domain.DeliveryWindow, 0, len(payload.Schedule))
	for _, window := range payload.Schedule {
		scheduled, err := time.Parse(time.RFC3339, window.ScheduledDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scheduled_date must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		schedule = append(schedule, domain.DeliveryWindow{
			Quantity:      window.Quantity,
			ScheduledDate: scheduled.UTC(),
		})
	}

	order, err := h.orders.UpdateDeliverySchedule(ctx, services.UpdateDeliveryScheduleCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		Actor:    actorFromIdentity(identity),
		Type:     domain.DeliveryType(payload.Type),
		Schedule: schedule,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type markDeliveredPayload struct {
	Tracking string `json:"tracking"`
}

func (h *AdminHandlers) markWindowDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	index, ok := parseIndexParam(ctx, w, r, "windowIndex")
	if !ok {
		return
	}

	var payload markDeliveredPayload
	if r.ContentLength > 0 {
		if !decodeJSONBody(ctx, w, r, &payload) {
			return
		}
	}

	order, err := h.orders.MarkWindowDelivered(ctx, services.MarkWindowDeliveredCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		Actor:       actorFromIdentity(identity),
		WindowIndex: index,
		Tracking:    payload.Tracking,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
