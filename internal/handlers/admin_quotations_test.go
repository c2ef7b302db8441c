package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/services"
)

type stubQuotationService struct {
	submitFn  func(ctx context.Context, cmd services.SubmitQuotationCommand) (domain.Quotation, error)
	getFn     func(ctx context.Context, cmd services.GetQuotationCommand) (domain.Quotation, error)
	listFn    func(ctx context.Context, filter services.QuotationListQuery) (domain.CursorPage[domain.Quotation], error)
	approveFn func(ctx context.Context, cmd services.ApproveQuotationCommand) (services.ApproveQuotationResult, error)
	rejectFn  func(ctx context.Context, cmd services.RejectQuotationCommand) (domain.Quotation, error)
	expireFn  func(ctx context.Context, batchSize int) (int, error)
}

func (s *stubQuotationService) Submit(ctx context.Context, cmd services.SubmitQuotationCommand) (domain.Quotation, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return domain.Quotation{ClientID: cmd.ClientID}, nil
}

func (s *stubQuotationService) GetQuotation(ctx context.Context, cmd services.GetQuotationCommand) (domain.Quotation, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return domain.Quotation{ID: cmd.QuotationID}, nil
}

func (s *stubQuotationService) ListQuotations(ctx context.Context, filter services.QuotationListQuery) (domain.CursorPage[domain.Quotation], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Quotation]{}, nil
}

func (s *stubQuotationService) Approve(ctx context.Context, cmd services.ApproveQuotationCommand) (services.ApproveQuotationResult, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.ApproveQuotationResult{}, nil
}

func (s *stubQuotationService) Reject(ctx context.Context, cmd services.RejectQuotationCommand) (domain.Quotation, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return domain.Quotation{ID: cmd.QuotationID}, nil
}

func (s *stubQuotationService) ExpireStale(ctx context.Context, batchSize int) (int, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, batchSize)
	}
	return 0, nil
}

var _ services.QuotationService = (*stubQuotationService)(nil)

func newAdminTestRouter(quotations services.QuotationService, orders services.OrderService) chi.Router {
	h := NewAdminHandlers(AdminHandlersDeps{Quotations: quotations, Orders: orders})
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func withStaffIdentity(req *http.Request, uid string, role string) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: []string{role}}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestAdminApproveReturnsQuotationAndOrder(t *testing.T) {
	var captured services.ApproveQuotationCommand
	quotations := &stubQuotationService{
		approveFn: func(ctx context.Context, cmd services.ApproveQuotationCommand) (services.ApproveQuotationResult, error) {
			captured = cmd
			return services.ApproveQuotationResult{
				Quotation: domain.Quotation{
					ID:              cmd.QuotationID,
					QuotationNumber: "Q-2026-000009",
					Status:          domain.QuotationStatusApproved,
				},
				Order: domain.Order{
					ID:          "ord_1",
					OrderNumber: "ORD-2026-000004",
					QuotationID: cmd.QuotationID,
					Status:      domain.OrderStatusPendingPayment,
				},
			}, nil
		},
	}
	router := newAdminTestRouter(quotations, &stubOrderService{})

	req := withStaffIdentity(httptest.NewRequest(http.MethodPost, "/admin/quotations/quo_1/approve", nil), "com-1", auth.RoleCommercial)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.QuotationID != "quo_1" {
		t.Fatalf("expected quo_1, got %s", captured.QuotationID)
	}
	if captured.Actor.Role != domain.RoleCommercial {
		t.Fatalf("expected commercial actor, got %s", captured.Actor.Role)
	}

	var body approveQuotationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Quotation.Status != string(domain.QuotationStatusApproved) {
		t.Fatalf("expected approved quotation, got %s", body.Quotation.Status)
	}
	if body.Order.OrderNumber != "ORD-2026-000004" {
		t.Fatalf("expected order number in response, got %s", body.Order.OrderNumber)
	}
	if body.Order.Status != string(domain.OrderStatusPendingPayment) {
		t.Fatalf("expected pending_payment order, got %s", body.Order.Status)
	}
}

func TestAdminApproveWrongStateMapsTo409(t *testing.T) {
	quotations := &stubQuotationService{
		approveFn: func(ctx context.Context, cmd services.ApproveQuotationCommand) (services.ApproveQuotationResult, error) {
			return services.ApproveQuotationResult{}, services.ErrQuotationInvalidState
		},
	}
	router := newAdminTestRouter(quotations, &stubOrderService{})

	req := withStaffIdentity(httptest.NewRequest(http.MethodPost, "/admin/quotations/quo_1/approve", nil), "com-1", auth.RoleCommercial)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminRejectRequiresBody(t *testing.T) {
	router := newAdminTestRouter(&stubQuotationService{}, &stubOrderService{})

	req := withStaffIdentity(httptest.NewRequest(http.MethodPost, "/admin/quotations/quo_1/reject", strings.NewReader("")), "com-1", auth.RoleCommercial)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminRejectForwardsReason(t *testing.T) {
	var captured services.RejectQuotationCommand
	quotations := &stubQuotationService{
		rejectFn: func(ctx context.Context, cmd services.RejectQuotationCommand) (domain.Quotation, error) {
			captured = cmd
			return domain.Quotation{ID: cmd.QuotationID, Status: domain.QuotationStatusRejected, RejectionReason: cmd.Reason}, nil
		},
	}
	router := newAdminTestRouter(quotations, &stubOrderService{})

	payload := `{"reason":"quantities below minimum"}`
	req := withStaffIdentity(httptest.NewRequest(http.MethodPost, "/admin/quotations/quo_1/reject", strings.NewReader(payload)), "com-1", auth.RoleCommercial)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "quantities below minimum" {
		t.Fatalf("expected reason to be forwarded, got %q", captured.Reason)
	}
}

func TestAdminTransitionOrderStatus(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: cmd.Status}, nil
		},
	}
	router := newAdminTestRouter(&stubQuotationService{}, orders)

	payload := `{"status":"in_production","note":"fabric arrived"}`
	req := withStaffIdentity(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", strings.NewReader(payload)), "adm-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.OrderStatusInProduction {
		t.Fatalf("expected in_production, got %s", captured.Status)
	}
	if captured.Note != "fabric arrived" {
		t.Fatalf("expected note to be forwarded, got %q", captured.Note)
	}
	if captured.Actor.Role != domain.RoleAdmin {
		t.Fatalf("expected admin actor, got %s", captured.Actor.Role)
	}
}

func TestAdminUpdateDeliveryRejectsBadTimestamp(t *testing.T) {
	router := newAdminTestRouter(&stubQuotationService{}, &stubOrderService{})

	payload := `{"type":"partial","schedule":[{"quantity":6,"scheduled_date":"tomorrow"}]}`
	req := withStaffIdentity(httptest.NewRequest(http.MethodPut, "/admin/orders/ord_1/delivery", strings.NewReader(payload)), "adm-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
