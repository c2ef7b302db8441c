package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string       { return "repository error" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

type stubQuotationRepository struct {
	findFn   func(context.Context, string) (domain.Quotation, error)
	listFn   func(context.Context, repositories.QuotationListFilter) (domain.CursorPage[domain.Quotation], error)
	expireFn func(context.Context, time.Time, int) (int, error)
	inserted []domain.Quotation
	updated  []domain.Quotation
}

func (s *stubQuotationRepository) Insert(ctx context.Context, quotation domain.Quotation) error {
	s.inserted = append(s.inserted, quotation)
	return nil
}

func (s *stubQuotationRepository) Update(ctx context.Context, quotation domain.Quotation) error {
	s.updated = append(s.updated, quotation)
	return nil
}

func (s *stubQuotationRepository) FindByID(ctx context.Context, id string) (domain.Quotation, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Quotation{}, repoError{notFound: true}
}

func (s *stubQuotationRepository) List(ctx context.Context, filter repositories.QuotationListFilter) (domain.CursorPage[domain.Quotation], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Quotation]{}, nil
}

func (s *stubQuotationRepository) ExpireStale(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, cutoff, batchSize)
	}
	return 0, nil
}

type stubOrderRepository struct {
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	inserted []domain.Order
	updated  []domain.Order
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	s.updated = append(s.updated, order)
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Order{}, repoError{notFound: true}
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubDraftRepository struct {
	getFn   func(context.Context, string) (domain.QuoteDraft, error)
	saved   []domain.QuoteDraft
	deleted []string
}

func (s *stubDraftRepository) Get(ctx context.Context, clientID string) (domain.QuoteDraft, error) {
	if s.getFn != nil {
		return s.getFn(ctx, clientID)
	}
	return domain.QuoteDraft{}, repoError{notFound: true}
}

func (s *stubDraftRepository) Save(ctx context.Context, draft domain.QuoteDraft) error {
	s.saved = append(s.saved, draft)
	return nil
}

func (s *stubDraftRepository) Delete(ctx context.Context, clientID string) error {
	s.deleted = append(s.deleted, clientID)
	return nil
}

type stubUserRepository struct {
	findFn func(context.Context, string) (domain.User, error)
}

func (s *stubUserRepository) Insert(ctx context.Context, user domain.User) error { return nil }
func (s *stubUserRepository) Update(ctx context.Context, user domain.User) error { return nil }

func (s *stubUserRepository) FindByID(ctx context.Context, uid string) (domain.User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, uid)
	}
	return domain.User{}, repoError{notFound: true}
}

func (s *stubUserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	return domain.CursorPage[domain.User]{}, nil
}

func (s *stubUserRepository) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	return nil
}

type stubNumberAllocator struct {
	quotationNumber string
	orderNumber     string
	quotationCalls  int
	orderCalls      int
}

func (s *stubNumberAllocator) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not used")
}

func (s *stubNumberAllocator) NextQuotationNumber(ctx context.Context) (string, error) {
	s.quotationCalls++
	return s.quotationNumber, nil
}

func (s *stubNumberAllocator) NextOrderNumber(ctx context.Context) (string, error) {
	s.orderCalls++
	return s.orderNumber, nil
}

type recordingUnitOfWork struct {
	calls int
}

func (u *recordingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	return fn(ctx)
}

type capturingQuotationPublisher struct {
	events []QuotationEvent
}

func (p *capturingQuotationPublisher) PublishQuotationEvent(ctx context.Context, event QuotationEvent) error {
	p.events = append(p.events, event)
	return nil
}

func fixedQuotationClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	}
}

func testDraft() domain.QuoteDraft {
	return domain.QuoteDraft{
		ClientID: "client-1",
		Items: []domain.QuoteDraftItem{
			{
				ProductID:     "prd_hoodie",
				ProductName:   "Hoodie Oversize",
				ProductColor:  "negro",
				BasePrice:     35000,
				SizeBreakdown: map[string]int{"M": 2, "L": 1},
				Customizations: []domain.QuotationCustomization{
					{
						Technique:    domain.TechniqueDTF,
						LocationID:   "pecho",
						LocationName: "Pecho",
						SizeName:     "CARTA",
						WidthCM:      21.5,
						HeightCM:     28,
						PricePerUnit: 9000,
						Quantity:     5,
						Subtotal:     27000,
						TierLabel:    "FIJO (CARTA)",
					},
				},
			},
			{
				ProductID:     "prd_tshirt",
				ProductName:   "Camiseta Regular",
				ProductColor:  "blanco",
				BasePrice:     20000,
				SizeBreakdown: map[string]int{"S": 2},
			},
		},
	}
}

func newTestQuotationService(t *testing.T, deps QuotationServiceDeps) QuotationService {
	t.Helper()
	if deps.Quotations == nil {
		deps.Quotations = &stubQuotationRepository{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepository{}
	}
	if deps.Drafts == nil {
		deps.Drafts = &stubDraftRepository{}
	}
	if deps.Users == nil {
		deps.Users = &stubUserRepository{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubNumberAllocator{quotationNumber: "Q-2026-000009", orderNumber: "ORD-2026-000004"}
	}
	if deps.Clock == nil {
		deps.Clock = fixedQuotationClock()
	}
	if deps.IDGen == nil {
		deps.IDGen = func() string { return "01TESTULID0000000000000000" }
	}
	svc, err := NewQuotationService(deps)
	if err != nil {
		t.Fatalf("new quotation service: %v", err)
	}
	return svc
}

func TestQuotationSubmitComputesTotals(t *testing.T) {
	quotations := &stubQuotationRepository{}
	drafts := &stubDraftRepository{getFn: func(context.Context, string) (domain.QuoteDraft, error) {
		return testDraft(), nil
	}}
	users := &stubUserRepository{findFn: func(context.Context, string) (domain.User, error) {
		return domain.User{UID: "client-1", Role: domain.RoleClient, AssignedTo: "com-1"}, nil
	}}
	publisher := &capturingQuotationPublisher{}

	svc := newTestQuotationService(t, QuotationServiceDeps{
		Quotations: quotations,
		Drafts:     drafts,
		Users:      users,
		Events:     publisher,
	})

	quotation, err := svc.Submit(context.Background(), SubmitQuotationCommand{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if quotation.QuotationNumber != "Q-2026-000009" {
		t.Fatalf("unexpected quotation number %s", quotation.QuotationNumber)
	}
	if quotation.Status != domain.QuotationStatusPendingApproval {
		t.Fatalf("expected pending_approval, got %s", quotation.Status)
	}
	if quotation.CommercialID != "com-1" {
		t.Fatalf("expected assigned commercial, got %q", quotation.CommercialID)
	}
	if quotation.TotalUnits != 5 {
		t.Fatalf("expected 5 units, got %d", quotation.TotalUnits)
	}
	// 3x35000 + 27000 prints + 2x20000 garments.
	if quotation.Subtotal != 172000 {
		t.Fatalf("expected subtotal 172000, got %d", quotation.Subtotal)
	}
	if quotation.IVAAmount != 32680 {
		t.Fatalf("expected IVA 32680, got %d", quotation.IVAAmount)
	}
	if quotation.Total != 204680 {
		t.Fatalf("expected total 204680, got %d", quotation.Total)
	}
	if quotation.EstimatedDays == nil || *quotation.EstimatedDays != 8 {
		t.Fatalf("expected standard 8 day window, got %v", quotation.EstimatedDays)
	}
	if !quotation.DeliveryPreferenceConfirmed {
		t.Fatalf("small orders confirm the delivery preference on submit")
	}
	wantExpiry := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	if !quotation.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %s", wantExpiry, quotation.ExpiresAt)
	}

	if len(quotations.inserted) != 1 {
		t.Fatalf("expected a single insert, got %d", len(quotations.inserted))
	}
	if len(drafts.deleted) != 1 || drafts.deleted[0] != "client-1" {
		t.Fatalf("expected the draft to be cleared, got %v", drafts.deleted)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "quotation.submitted" {
		t.Fatalf("expected quotation.submitted event, got %v", publisher.events)
	}
}

func TestQuotationSubmitLargeVolumeNeedsDeliveryPreference(t *testing.T) {
	bigDraft := domain.QuoteDraft{
		ClientID: "client-1",
		Items: []domain.QuoteDraftItem{
			{
				ProductID:     "prd_tshirt",
				ProductName:   "Camiseta Regular",
				BasePrice:     20000,
				SizeBreakdown: map[string]int{"M": 200},
			},
		},
	}
	drafts := &stubDraftRepository{getFn: func(context.Context, string) (domain.QuoteDraft, error) {
		return bigDraft, nil
	}}
	users := &stubUserRepository{findFn: func(context.Context, string) (domain.User, error) {
		return domain.User{UID: "client-1", Role: domain.RoleClient}, nil
	}}

	svc := newTestQuotationService(t, QuotationServiceDeps{Drafts: drafts, Users: users})

	if _, err := svc.Submit(context.Background(), SubmitQuotationCommand{ClientID: "client-1"}); !errors.Is(err, ErrQuotationInvalidInput) {
		t.Fatalf("expected invalid input without preference, got %v", err)
	}

	quotation, err := svc.Submit(context.Background(), SubmitQuotationCommand{
		ClientID:           "client-1",
		DeliveryPreference: domain.DeliveryPartial,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !quotation.RequiresCommercialApproval {
		t.Fatalf("200 units must require commercial approval")
	}
	if quotation.EstimatedDays != nil {
		t.Fatalf("large volume has no default production window, got %v", *quotation.EstimatedDays)
	}
	if quotation.DeliveryPreferenceConfirmed {
		t.Fatalf("large volume preference is confirmed at approval, not submit")
	}
}

func TestQuotationSubmitJustBelowLargeVolumeThreshold(t *testing.T) {
	draft := domain.QuoteDraft{
		ClientID: "client-1",
		Items: []domain.QuoteDraftItem{
			{
				ProductID:     "prd_tshirt",
				ProductName:   "Camiseta Regular",
				BasePrice:     20000,
				SizeBreakdown: map[string]int{"M": 199},
			},
		},
	}
	drafts := &stubDraftRepository{getFn: func(context.Context, string) (domain.QuoteDraft, error) {
		return draft, nil
	}}
	users := &stubUserRepository{findFn: func(context.Context, string) (domain.User, error) {
		return domain.User{UID: "client-1", Role: domain.RoleClient}, nil
	}}

	svc := newTestQuotationService(t, QuotationServiceDeps{Drafts: drafts, Users: users})

	quotation, err := svc.Submit(context.Background(), SubmitQuotationCommand{ClientID: "client-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if quotation.RequiresCommercialApproval {
		t.Fatalf("199 units must not require commercial approval")
	}
	if quotation.EstimatedDays == nil || *quotation.EstimatedDays != 8 {
		t.Fatalf("expected standard 8 day window, got %v", quotation.EstimatedDays)
	}
	if !quotation.DeliveryPreferenceConfirmed {
		t.Fatalf("sub-threshold orders confirm the delivery preference on submit")
	}
}

func TestQuotationSubmitEmptyDraft(t *testing.T) {
	users := &stubUserRepository{findFn: func(context.Context, string) (domain.User, error) {
		return domain.User{UID: "client-1", Role: domain.RoleClient}, nil
	}}
	svc := newTestQuotationService(t, QuotationServiceDeps{Users: users})

	if _, err := svc.Submit(context.Background(), SubmitQuotationCommand{ClientID: "client-1"}); !errors.Is(err, ErrQuotationEmptyDraft) {
		t.Fatalf("expected empty draft error, got %v", err)
	}
}

func TestQuotationApproveCreatesOrderInOneTransaction(t *testing.T) {
	pending := domain.Quotation{
		ID:                       "quo_1",
		QuotationNumber:          "Q-2026-000009",
		ClientID:                 "client-1",
		CommercialID:             "com-1",
		Status:                   domain.QuotationStatusPendingApproval,
		Items:                    []domain.QuotationItem{{ProductID: "prd_tshirt", SizeBreakdown: map[string]int{"M": 3}}},
		Subtotal:                 60000,
		IVAAmount:                11400,
		Total:                    71400,
		TotalUnits:               3,
		ClientDeliveryPreference: domain.DeliveryPartial,
	}
	quotations := &stubQuotationRepository{findFn: func(context.Context, string) (domain.Quotation, error) {
		return pending, nil
	}}
	orders := &stubOrderRepository{}
	counters := &stubNumberAllocator{quotationNumber: "Q-2026-000009", orderNumber: "ORD-2026-000004"}
	uow := &recordingUnitOfWork{}
	publisher := &capturingQuotationPublisher{}

	svc := newTestQuotationService(t, QuotationServiceDeps{
		Quotations: quotations,
		Orders:     orders,
		Counters:   counters,
		UnitOfWork: uow,
		Events:     publisher,
	})

	result, err := svc.Approve(context.Background(), ApproveQuotationCommand{
		QuotationID: "quo_1",
		Actor:       Actor{UID: "adm-1", Role: domain.RoleAdmin},
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	if uow.calls != 1 {
		t.Fatalf("expected one transaction, got %d", uow.calls)
	}
	if result.Quotation.Status != domain.QuotationStatusApproved {
		t.Fatalf("expected approved quotation, got %s", result.Quotation.Status)
	}
	if len(quotations.updated) != 1 || quotations.updated[0].Status != domain.QuotationStatusApproved {
		t.Fatalf("expected quotation update inside the transaction")
	}
	if len(orders.inserted) != 1 {
		t.Fatalf("expected one order insert, got %d", len(orders.inserted))
	}

	order := orders.inserted[0]
	if order.OrderNumber != "ORD-2026-000004" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment order, got %s", order.Status)
	}
	if order.QuotationID != "quo_1" || order.Total != 71400 || order.Subtotal != 60000 {
		t.Fatalf("order must copy quotation amounts, got %+v", order)
	}
	if order.Delivery.Type != domain.DeliveryTypePartial {
		t.Fatalf("partial preference must carry into delivery type, got %s", order.Delivery.Type)
	}
	if order.Payment.Method != domain.PaymentTransfer {
		t.Fatalf("expected default transfer method, got %s", order.Payment.Method)
	}
	if counters.orderCalls != 1 {
		t.Fatalf("expected one order number allocation, got %d", counters.orderCalls)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "quotation.approved" {
		t.Fatalf("expected quotation.approved event, got %v", publisher.events)
	}
}

func TestQuotationApproveRejectsWrongState(t *testing.T) {
	quotations := &stubQuotationRepository{findFn: func(context.Context, string) (domain.Quotation, error) {
		return domain.Quotation{ID: "quo_1", Status: domain.QuotationStatusApproved}, nil
	}}
	counters := &stubNumberAllocator{orderNumber: "ORD-2026-000004"}

	svc := newTestQuotationService(t, QuotationServiceDeps{Quotations: quotations, Counters: counters})

	_, err := svc.Approve(context.Background(), ApproveQuotationCommand{
		QuotationID: "quo_1",
		Actor:       Actor{UID: "adm-1", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, ErrQuotationInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if counters.orderCalls != 0 {
		t.Fatalf("state errors must not burn sequence values")
	}
}

func TestQuotationApproveForbiddenForClients(t *testing.T) {
	svc := newTestQuotationService(t, QuotationServiceDeps{})
	_, err := svc.Approve(context.Background(), ApproveQuotationCommand{
		QuotationID: "quo_1",
		Actor:       Actor{UID: "client-1", Role: domain.RoleClient},
	})
	if !errors.Is(err, ErrQuotationForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestQuotationRejectRequiresReason(t *testing.T) {
	svc := newTestQuotationService(t, QuotationServiceDeps{})
	_, err := svc.Reject(context.Background(), RejectQuotationCommand{
		QuotationID: "quo_1",
		Actor:       Actor{UID: "adm-1", Role: domain.RoleAdmin},
	})
	if !errors.Is(err, ErrQuotationInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestQuotationRejectRecordsReason(t *testing.T) {
	quotations := &stubQuotationRepository{findFn: func(context.Context, string) (domain.Quotation, error) {
		return domain.Quotation{ID: "quo_1", ClientID: "client-1", CommercialID: "com-1", Status: domain.QuotationStatusPendingApproval}, nil
	}}
	publisher := &capturingQuotationPublisher{}

	svc := newTestQuotationService(t, QuotationServiceDeps{Quotations: quotations, Events: publisher})

	quotation, err := svc.Reject(context.Background(), RejectQuotationCommand{
		QuotationID: "quo_1",
		Actor:       Actor{UID: "com-1", Role: domain.RoleCommercial},
		Reason:      "colores fuera de gama",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if quotation.Status != domain.QuotationStatusRejected {
		t.Fatalf("expected rejected, got %s", quotation.Status)
	}
	if quotation.RejectionReason != "colores fuera de gama" {
		t.Fatalf("unexpected reason %q", quotation.RejectionReason)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != "quotation.rejected" {
		t.Fatalf("expected quotation.rejected event, got %v", publisher.events)
	}
}

func TestQuotationExpireStaleDelegatesToRepository(t *testing.T) {
	var gotCutoff time.Time
	var gotBatch int
	quotations := &stubQuotationRepository{expireFn: func(_ context.Context, cutoff time.Time, batchSize int) (int, error) {
		gotCutoff = cutoff
		gotBatch = batchSize
		return 3, nil
	}}

	svc := newTestQuotationService(t, QuotationServiceDeps{Quotations: quotations})

	expired, err := svc.ExpireStale(context.Background(), 0)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired, got %d", expired)
	}
	if !gotCutoff.Equal(fixedQuotationClock()()) {
		t.Fatalf("expected cutoff at the sweep time, got %s", gotCutoff)
	}
	if gotBatch != 200 {
		t.Fatalf("expected default batch size 200, got %d", gotBatch)
	}
}

func TestQuotationListScopesByRole(t *testing.T) {
	var gotFilter repositories.QuotationListFilter
	quotations := &stubQuotationRepository{listFn: func(_ context.Context, filter repositories.QuotationListFilter) (domain.CursorPage[domain.Quotation], error) {
		gotFilter = filter
		return domain.CursorPage[domain.Quotation]{}, nil
	}}

	svc := newTestQuotationService(t, QuotationServiceDeps{Quotations: quotations})

	if _, err := svc.ListQuotations(context.Background(), QuotationListQuery{Actor: Actor{UID: "client-1", Role: domain.RoleClient}}); err != nil {
		t.Fatalf("list as client: %v", err)
	}
	if gotFilter.ClientID != "client-1" || gotFilter.CommercialID != "" {
		t.Fatalf("client listings must be scoped to the client, got %+v", gotFilter)
	}

	if _, err := svc.ListQuotations(context.Background(), QuotationListQuery{Actor: Actor{UID: "com-1", Role: domain.RoleCommercial}}); err != nil {
		t.Fatalf("list as commercial: %v", err)
	}
	if gotFilter.CommercialID != "com-1" || gotFilter.ClientID != "" {
		t.Fatalf("commercial listings must be scoped to the commercial, got %+v", gotFilter)
	}

	if _, err := svc.ListQuotations(context.Background(), QuotationListQuery{Actor: Actor{UID: "adm-1", Role: domain.RoleAdmin}}); err != nil {
		t.Fatalf("list as admin: %v", err)
	}
	if gotFilter.ClientID != "" || gotFilter.CommercialID != "" {
		t.Fatalf("admin listings must be unscoped, got %+v", gotFilter)
	}
}
