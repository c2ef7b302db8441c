package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/repositories"
)

var (
	// ErrQuotationInvalidInput signals invalid submission or review input.
	ErrQuotationInvalidInput = errors.New("quotation: invalid input")
	// ErrQuotationNotFound indicates the quotation does not exist.
	ErrQuotationNotFound = errors.New("quotation: not found")
	// ErrQuotationForbidden indicates the caller may not access the quotation.
	ErrQuotationForbidden = errors.New("quotation: forbidden")
	// ErrQuotationInvalidState indicates the quotation is not in a state that
	// permits the requested operation.
	ErrQuotationInvalidState = errors.New("quotation: invalid state")
	// ErrQuotationEmptyDraft indicates the client tried to submit without any
	// garments in the draft.
	ErrQuotationEmptyDraft = errors.New("quotation: draft has no units")
	// ErrQuotationUnavailable indicates a downstream dependency failure.
	ErrQuotationUnavailable = errors.New("quotation: temporarily unavailable")
)

const (
	// largeVolumeUnits is the threshold above which production windows and
	// delivery preferences are agreed with a commercial instead of defaulted.
	largeVolumeUnits = 200

	// standardEstimatedDays is the default production window for small-volume
	// quotations.
	standardEstimatedDays = 8

	// quotationTTL is how long a submitted quotation stays reviewable before
	// the expiry sweep retires it.
	quotationTTL = 30 * 24 * time.Hour

	defaultIVAPercent = 19.0

	defaultExpireBatchSize = 200
)

// QuotationServiceDeps bundles collaborators required to construct the
// quotation service.
type QuotationServiceDeps struct {
	Quotations repositories.QuotationRepository
	Orders     repositories.OrderRepository
	Drafts     repositories.QuoteDraftRepository
	Users      repositories.UserRepository
	Counters   CounterService
	UnitOfWork repositories.UnitOfWork
	Events     QuotationEventPublisher
	Clock      func() time.Time
	IDGen      func() string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type quotationService struct {
	quotations repositories.QuotationRepository
	orders     repositories.OrderRepository
	drafts     repositories.QuoteDraftRepository
	users      repositories.UserRepository
	counters   CounterService
	uow        repositories.UnitOfWork
	events     QuotationEventPublisher
	clock      func() time.Time
	idGen      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewQuotationService wires dependencies into a concrete QuotationService
// implementation.
func NewQuotationService(deps QuotationServiceDeps) (QuotationService, error) {
	if deps.Quotations == nil {
		return nil, errors.New("quotation service: quotation repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("quotation service: order repository is required")
	}
	if deps.Drafts == nil {
		return nil, errors.New("quotation service: draft repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("quotation service: user repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("quotation service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &quotationService{
		quotations: deps.Quotations,
		orders:     deps.Orders,
		drafts:     deps.Drafts,
		users:      deps.Users,
		counters:   deps.Counters,
		uow:        deps.UnitOfWork,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		idGen:  idGen,
		logger: logger,
	}, nil
}

// Submit converts the client's working draft into a pending_approval
// quotation with computed totals, then clears the draft.
func (s *quotationService) Submit(ctx context.Context, cmd SubmitQuotationCommand) (Quotation, error) {
	clientID := strings.TrimSpace(cmd.ClientID)
	if clientID == "" {
		return Quotation{}, fmt.Errorf("%w: client id is required", ErrQuotationInvalidInput)
	}

	client, err := s.users.FindByID(ctx, clientID)
	if err != nil {
		return Quotation{}, s.mapRepositoryError(err)
	}

	draft, err := s.drafts.Get(ctx, clientID)
	if err != nil {
		if isNotFound(err) {
			return Quotation{}, ErrQuotationEmptyDraft
		}
		return Quotation{}, s.mapRepositoryError(err)
	}

	totalUnits := draft.TotalUnits()
	if len(draft.Items) == 0 || totalUnits == 0 {
		return Quotation{}, ErrQuotationEmptyDraft
	}

	largeVolume := totalUnits >= largeVolumeUnits
	if largeVolume && cmd.DeliveryPreference == "" {
		return Quotation{}, fmt.Errorf("%w: delivery preference is required for %d or more units", ErrQuotationInvalidInput, largeVolumeUnits)
	}
	switch cmd.DeliveryPreference {
	case "", domain.DeliveryPartial, domain.DeliveryComplete:
	default:
		return Quotation{}, fmt.Errorf("%w: unknown delivery preference %q", ErrQuotationInvalidInput, cmd.DeliveryPreference)
	}

	now := s.clock()

	items := make([]QuotationItem, 0, len(draft.Items))
	var subtotal int64
	for _, draftItem := range draft.Items {
		item := buildQuotationItem(draftItem)
		subtotal += item.ItemTotal
		items = append(items, item)
	}

	ivaAmount := int64(math.Round(float64(subtotal) * defaultIVAPercent / 100))

	number, err := s.counters.NextQuotationNumber(ctx)
	if err != nil {
		return Quotation{}, fmt.Errorf("quotation service: allocate number: %w", err)
	}

	quotation := Quotation{
		ID:                       "quo_" + s.idGen(),
		QuotationNumber:          number,
		ClientID:                 clientID,
		CommercialID:             client.AssignedTo,
		Status:                   domain.QuotationStatusPendingApproval,
		Items:                    items,
		Subtotal:                 subtotal,
		IVAPercent:               defaultIVAPercent,
		IVAAmount:                ivaAmount,
		Total:                    subtotal + ivaAmount,
		TotalUnits:               totalUnits,
		EstimatedDaysNote:        strings.TrimSpace(cmd.EstimatedDaysNote),
		ClientDeliveryPreference: cmd.DeliveryPreference,
		ExpiresAt:                now.Add(quotationTTL),
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if largeVolume {
		quotation.RequiresCommercialApproval = true
	} else {
		days := standardEstimatedDays
		quotation.EstimatedDays = &days
		quotation.DeliveryPreferenceConfirmed = true
	}

	if err := s.quotations.Insert(ctx, quotation); err != nil {
		return Quotation{}, s.mapRepositoryError(err)
	}

	if err := s.drafts.Delete(ctx, clientID); err != nil && !isNotFound(err) {
		s.logger(ctx, "quotation.draft.clear.failed", map[string]any{
			"quotationId": quotation.ID,
			"clientId":    clientID,
			"error":       err.Error(),
		})
	}

	s.publishEvent(ctx, QuotationEvent{
		Type:        "quotation.submitted",
		QuotationID: quotation.ID,
		ClientID:    clientID,
		Status:      quotation.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"quotationNumber": quotation.QuotationNumber,
			"totalUnits":      totalUnits,
			"largeVolume":     largeVolume,
		},
	})

	return quotation, nil
}

func (s *quotationService) GetQuotation(ctx context.Context, cmd GetQuotationCommand) (Quotation, error) {
	quotationID := strings.TrimSpace(cmd.QuotationID)
	if quotationID == "" {
		return Quotation{}, fmt.Errorf("%w: quotation id is required", ErrQuotationInvalidInput)
	}
	quotation, err := s.quotations.FindByID(ctx, quotationID)
	if err != nil {
		return Quotation{}, s.mapRepositoryError(err)
	}
	if !canAccessQuotation(cmd.Actor, quotation) {
		return Quotation{}, ErrQuotationForbidden
	}
	return quotation, nil
}

func (s *quotationService) ListQuotations(ctx context.Context, query QuotationListQuery) (domain.CursorPage[Quotation], error) {
	filter := repositories.QuotationListFilter{
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
		return domain.CursorPage[Quotation]{}, ErrQuotationForbidden
	}

	page, err := s.quotations.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Quotation]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Approve flips a pending_approval quotation to approved and creates the
// corresponding pending_payment order. Both writes happen in one
// transaction so a crash can never leave an approved quotation without its
// order.
func (s *quotationService) Approve(ctx context.Context, cmd ApproveQuotationCommand) (ApproveQuotationResult, error) {
	quotationID := strings.TrimSpace(cmd.QuotationID)
	if quotationID == "" {
		return ApproveQuotationResult{}, fmt.Errorf("%w: quotation id is required", ErrQuotationInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return ApproveQuotationResult{}, ErrQuotationForbidden
	}

	// Pre-check outside the transaction so obvious state errors do not burn
	// a sequence value.
	current, err := s.quotations.FindByID(ctx, quotationID)
	if err != nil {
		return ApproveQuotationResult{}, s.mapRepositoryError(err)
	}
	if cmd.Actor.Role == domain.RoleCommercial && current.CommercialID != cmd.Actor.UID {
		return ApproveQuotationResult{}, ErrQuotationForbidden
	}
	if current.Status != domain.QuotationStatusPendingApproval {
		return ApproveQuotationResult{}, fmt.Errorf("%w: quotation is %s", ErrQuotationInvalidState, current.Status)
	}

	// Counter allocation stays outside the transaction. Gaps in the
	// sequence are acceptable, duplicates are not.
	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return ApproveQuotationResult{}, fmt.Errorf("quotation service: allocate order number: %w", err)
	}

	now := s.clock()
	orderID := "ord_" + s.idGen()

	var result ApproveQuotationResult
	txErr := s.runInTx(ctx, func(txCtx context.Context) error {
		quotation, err := s.quotations.FindByID(txCtx, quotationID)
		if err != nil {
			return err
		}
		if quotation.Status != domain.QuotationStatusPendingApproval {
			return fmt.Errorf("%w: quotation is %s", ErrQuotationInvalidState, quotation.Status)
		}

		quotation.Status = domain.QuotationStatusApproved
		quotation.DeliveryPreferenceConfirmed = true
		quotation.UpdatedAt = now
		if err := s.quotations.Update(txCtx, quotation); err != nil {
			return err
		}

		order := buildOrderFromQuotation(orderID, orderNumber, quotation, now)
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}

		result = ApproveQuotationResult{Quotation: quotation, Order: order}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrQuotationInvalidState) {
			return ApproveQuotationResult{}, txErr
		}
		return ApproveQuotationResult{}, s.mapRepositoryError(txErr)
	}

	s.publishEvent(ctx, QuotationEvent{
		Type:        "quotation.approved",
		QuotationID: result.Quotation.ID,
		ClientID:    result.Quotation.ClientID,
		Status:      result.Quotation.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"orderId":     result.Order.ID,
			"orderNumber": result.Order.OrderNumber,
			"approvedBy":  cmd.Actor.UID,
		},
	})

	return result, nil
}

func (s *quotationService) Reject(ctx context.Context, cmd RejectQuotationCommand) (Quotation, error) {
	quotationID := strings.TrimSpace(cmd.QuotationID)
	if quotationID == "" {
		return Quotation{}, fmt.Errorf("%w: quotation id is required", ErrQuotationInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Quotation{}, fmt.Errorf("%w: rejection reason is required", ErrQuotationInvalidInput)
	}
	if !cmd.Actor.IsStaff() {
		return Quotation{}, ErrQuotationForbidden
	}

	quotation, err := s.quotations.FindByID(ctx, quotationID)
	if err != nil {
		return Quotation{}, s.mapRepositoryError(err)
	}
	if cmd.Actor.Role == domain.RoleCommercial && quotation.CommercialID != cmd.Actor.UID {
		return Quotation{}, ErrQuotationForbidden
	}
	if quotation.Status != domain.QuotationStatusPendingApproval {
		return Quotation{}, fmt.Errorf("%w: quotation is %s", ErrQuotationInvalidState, quotation.Status)
	}

	now := s.clock()
	quotation.Status = domain.QuotationStatusRejected
	quotation.RejectionReason = reason
	quotation.UpdatedAt = now
	if err := s.quotations.Update(ctx, quotation); err != nil {
		return Quotation{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, QuotationEvent{
		Type:        "quotation.rejected",
		QuotationID: quotation.ID,
		ClientID:    quotation.ClientID,
		Status:      quotation.Status,
		OccurredAt:  now,
		Metadata: map[string]any{
			"reason":     reason,
			"rejectedBy": cmd.Actor.UID,
		},
	})

	return quotation, nil
}

// ExpireStale retires pending_approval quotations whose review window has
// passed. Invoked by the scheduled job endpoint.
func (s *quotationService) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultExpireBatchSize
	}
	now := s.clock()
	expired, err := s.quotations.ExpireStale(ctx, now, batchSize)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	if expired > 0 {
		s.logger(ctx, "quotation.expire.sweep", map[string]any{
			"expiredCount": expired,
			"cutoff":       now,
		})
	}
	return expired, nil
}

func (s *quotationService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.uow == nil {
		return fn(ctx)
	}
	return s.uow.RunInTx(ctx, fn)
}

func (s *quotationService) publishEvent(ctx context.Context, event QuotationEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishQuotationEvent(ctx, event); err != nil {
		s.logger(ctx, "quotation.event.publish.failed", map[string]any{
			"eventType":   event.Type,
			"quotationId": event.QuotationID,
			"error":       err.Error(),
		})
	}
}

func (s *quotationService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrQuotationNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrQuotationUnavailable, err)
		}
	}
	return err
}

func canAccessQuotation(actor Actor, quotation Quotation) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleCommercial:
		return quotation.CommercialID == actor.UID
	case domain.RoleClient:
		return quotation.ClientID == actor.UID
	default:
		return false
	}
}

// buildQuotationItem freezes a draft line into a quotation line with its
// computed totals. Customization subtotals were already priced against the
// whole-draft unit count.
func buildQuotationItem(draftItem QuoteDraftItem) QuotationItem {
	units := draftItem.Units()
	subtotal := draftItem.BasePrice * int64(units)

	customizations := make([]QuotationCustomization, len(draftItem.Customizations))
	copy(customizations, draftItem.Customizations)
	for _, c := range customizations {
		subtotal += c.Subtotal
	}

	breakdown := make(map[string]int, len(draftItem.SizeBreakdown))
	maps.Copy(breakdown, draftItem.SizeBreakdown)

	return QuotationItem{
		ProductID:      draftItem.ProductID,
		ProductName:    draftItem.ProductName,
		ProductColor:   draftItem.ProductColor,
		BasePrice:      draftItem.BasePrice,
		SizeBreakdown:  breakdown,
		Customizations: customizations,
		Subtotal:       subtotal,
		ItemTotal:      subtotal,
	}
}

// buildOrderFromQuotation copies the approved quotation into a fresh
// pending_payment order.
func buildOrderFromQuotation(orderID, orderNumber string, quotation Quotation, now time.Time) Order {
	items := make([]QuotationItem, len(quotation.Items))
	copy(items, quotation.Items)

	deliveryType := domain.DeliveryTypeTotal
	if quotation.ClientDeliveryPreference == domain.DeliveryPartial {
		deliveryType = domain.DeliveryTypePartial
	}

	return Order{
		ID:           orderID,
		OrderNumber:  orderNumber,
		QuotationID:  quotation.ID,
		ClientID:     quotation.ClientID,
		CommercialID: quotation.CommercialID,
		Status:       domain.OrderStatusPendingPayment,
		Items:        items,
		Subtotal:     quotation.Subtotal,
		IVAAmount:    quotation.IVAAmount,
		Total:        quotation.Total,
		Payment: OrderPayment{
			Method: domain.PaymentTransfer,
		},
		Delivery: OrderDelivery{
			Type:     deliveryType,
			Schedule: []DeliveryWindow{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
