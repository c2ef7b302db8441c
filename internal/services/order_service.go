package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid order data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order is not in a state that permits
	// the requested operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderUnavailable indicates a downstream dependency failure.
	ErrOrderUnavailable = errors.New("order: temporarily unavailable")
	// ErrProofTooLarge indicates the payment proof exceeds the upload limit.
	ErrProofTooLarge = errors.New("order: payment proof too large")
	// ErrProofUnsupportedType indicates the payment proof media type is not
	// accepted.
	ErrProofUnsupportedType = errors.New("order: unsupported payment proof type")
)

// maxProofSizeBytes caps payment proof uploads at 10 MiB.
const maxProofSizeBytes = 10 << 20

// OrderServiceDeps bundles collaborators required to construct the order
// service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Proofs ProofStore
	Events OrderEventPublisher
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	proofs ProofStore
	events OrderEventPublisher
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService
// implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		proofs: deps.Proofs,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !canAccessOrder(cmd.Actor, order) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	filter := repositories.OrderListFilter{
		Status: query.Status,
		DateRange: domain.RangeQuery[time.Time]{
			From: query.CreatedAfter,
			To:   query.CreatedBefore,
		},
		Pagination: query.Pagination,
	}
	switch query.Actor.Role {
	case domain.RoleClient:
		filter.ClientID = query.Actor.UID
	case domain.RoleCommercial:
		filter.CommercialID = query.Actor.UID
	case domain.RoleAdmin:
	default:
		return domain.CursorPage[Order]{}, ErrOrderForbidden
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus moves an order between Kanban columns. Staff move orders
// freely in either direction to correct mistakes; only the timestamps and
// the cancellation note are enforced.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}
	if !isKnownOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	note := strings.TrimSpace(cmd.Note)
	if cmd.Status == domain.OrderStatusCancelled && note == "" {
		return Order{}, fmt.Errorf("%w: cancellation requires a note", ErrOrderInvalidInput)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	previous := order.Status
	order.Status = cmd.Status
	order.UpdatedAt = now
	if note != "" {
		order.Notes = note
	}
	switch cmd.Status {
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	default:
		order.CompletedAt = nil
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       "order.status_changed",
		OrderID:    order.ID,
		ClientID:   order.ClientID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata: map[string]any{
			"previousStatus": string(previous),
			"movedBy":        cmd.Actor.UID,
		},
	})

	return order, nil
}

// AttachPaymentProof stores the client's payment proof and confirms the
// order. This is the only status move a client can perform, and it only
// goes forward.
func (s *orderService) AttachPaymentProof(ctx context.Context, cmd AttachPaymentProofCommand) (Order, error) {
	if s.proofs == nil {
		return Order{}, errors.New("order service: proof store is not configured")
	}
	if cmd.Body == nil {
		return Order{}, fmt.Errorf("%w: proof body is required", ErrOrderInvalidInput)
	}
	if cmd.SizeBytes <= 0 {
		return Order{}, fmt.Errorf("%w: proof size is required", ErrOrderInvalidInput)
	}
	if cmd.SizeBytes > maxProofSizeBytes {
		return Order{}, fmt.Errorf("%w: %d bytes", ErrProofTooLarge, cmd.SizeBytes)
	}
	if !isAcceptedProofType(cmd.ContentType) {
		return Order{}, fmt.Errorf("%w: %s", ErrProofUnsupportedType, cmd.ContentType)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.Actor.Role != domain.RoleClient || order.ClientID != cmd.Actor.UID {
		return Order{}, ErrOrderForbidden
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
	}

	proofURL, err := s.proofs.StoreProof(ctx, order.ID, cmd.FileName, cmd.ContentType, cmd.SizeBytes, cmd.Body)
	if err != nil {
		return Order{}, fmt.Errorf("order service: store proof: %w", err)
	}

	now := s.clock()
	order.Status = domain.OrderStatusConfirmed
	order.Payment.ProofURL = proofURL
	order.Payment.UploadedAt = &now
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       "order.payment_proof_attached",
		OrderID:    order.ID,
		ClientID:   order.ClientID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata: map[string]any{
			"proofUrl": proofURL,
		},
	})

	return order, nil
}

// VerifyPayment records staff sign-off on an attached payment proof.
func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Payment.ProofURL == "" {
		return Order{}, fmt.Errorf("%w: no payment proof attached", ErrOrderInvalidState)
	}

	now := s.clock()
	order.Payment.VerifiedBy = cmd.Actor.UID
	order.Payment.VerifiedAt = &now
	if notes := strings.TrimSpace(cmd.Notes); notes != "" {
		order.Payment.Notes = notes
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       "order.payment_verified",
		OrderID:    order.ID,
		ClientID:   order.ClientID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata: map[string]any{
			"verifiedBy": cmd.Actor.UID,
		},
	})

	return order, nil
}

func (s *orderService) UpdateDeliverySchedule(ctx context.Context, cmd UpdateDeliveryScheduleCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}
	switch cmd.Type {
	case domain.DeliveryTypePartial, domain.DeliveryTypeTotal:
	default:
		return Order{}, fmt.Errorf("%w: unknown delivery type %q", ErrOrderInvalidInput, cmd.Type)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	schedule := make([]DeliveryWindow, 0, len(cmd.Schedule))
	scheduled := 0
	for i, window := range cmd.Schedule {
		if window.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: window %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if window.ScheduledDate.IsZero() {
			return Order{}, fmt.Errorf("%w: window %d needs a scheduled date", ErrOrderInvalidInput, i)
		}
		scheduled += window.Quantity
		schedule = append(schedule, window)
	}
	if cmd.Type == domain.DeliveryTypePartial {
		if totalUnits := orderUnits(order); scheduled > totalUnits {
			return Order{}, fmt.Errorf("%w: schedule covers %d units but the order has %d", ErrOrderInvalidInput, scheduled, totalUnits)
		}
	}

	order.Delivery.Type = cmd.Type
	order.Delivery.Schedule = schedule
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) MarkWindowDelivered(ctx context.Context, cmd MarkWindowDeliveredCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.WindowIndex < 0 || cmd.WindowIndex >= len(order.Delivery.Schedule) {
		return Order{}, fmt.Errorf("%w: window index %d out of range", ErrOrderInvalidInput, cmd.WindowIndex)
	}
	window := &order.Delivery.Schedule[cmd.WindowIndex]
	if window.Delivered {
		return Order{}, fmt.Errorf("%w: window %d already delivered", ErrOrderInvalidState, cmd.WindowIndex)
	}

	now := s.clock()
	window.Delivered = true
	window.DeliveredAt = &now
	window.Tracking = strings.TrimSpace(cmd.Tracking)
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) findOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"eventType": event.Type,
			"orderId":   event.OrderID,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func canAccessOrder(actor Actor, order Order) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleCommercial:
		return order.CommercialID == actor.UID
	case domain.RoleClient:
		return order.ClientID == actor.UID
	default:
		return false
	}
}

func isKnownOrderStatus(status OrderStatus) bool {
	switch status {
	case domain.OrderStatusPendingPayment,
		domain.OrderStatusConfirmed,
		domain.OrderStatusInProduction,
		domain.OrderStatusPartialReady,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func isAcceptedProofType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "application/pdf" {
		return true
	}
	return strings.HasPrefix(contentType, "image/")
}

func orderUnits(order Order) int {
	total := 0
	for _, item := range order.Items {
		total += item.Units()
	}
	return total
}
