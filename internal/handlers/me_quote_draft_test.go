package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/services"
)

type stubDraftService struct {
	getFn    func(ctx context.Context, clientID string) (domain.QuoteDraft, error)
	addFn    func(ctx context.Context, cmd services.AddDraftItemCommand) (domain.QuoteDraft, error)
	removeFn func(ctx context.Context, cmd services.RemoveDraftItemCommand) (domain.QuoteDraft, error)
	sizesFn  func(ctx context.Context, cmd services.UpdateSizeBreakdownCommand) (domain.QuoteDraft, error)
	custFn   func(ctx context.Context, cmd services.AddCustomizationCommand) (domain.QuoteDraft, error)
	uncustFn func(ctx context.Context, cmd services.RemoveCustomizationCommand) (domain.QuoteDraft, error)
	clearFn  func(ctx context.Context, clientID string) error
}

func (s *stubDraftService) GetDraft(ctx context.Context, clientID string) (domain.QuoteDraft, error) {
	if s.getFn != nil {
		return s.getFn(ctx, clientID)
	}
	return domain.QuoteDraft{ClientID: clientID}, nil
}

func (s *stubDraftService) AddItem(ctx context.Context, cmd services.AddDraftItemCommand) (domain.QuoteDraft, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
}

func (s *stubDraftService) RemoveItem(ctx context.Context, cmd services.RemoveDraftItemCommand) (domain.QuoteDraft, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
}

func (s *stubDraftService) UpdateSizeBreakdown(ctx context.Context, cmd services.UpdateSizeBreakdownCommand) (domain.QuoteDraft, error) {
	if s.sizesFn != nil {
		return s.sizesFn(ctx, cmd)
	}
	return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
}

func (s *stubDraftService) AddCustomization(ctx context.Context, cmd services.AddCustomizationCommand) (domain.QuoteDraft, error) {
	if s.custFn != nil {
		return s.custFn(ctx, cmd)
	}
	return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
}

func (s *stubDraftService) RemoveCustomization(ctx context.Context, cmd services.RemoveCustomizationCommand) (domain.QuoteDraft, error) {
	if s.uncustFn != nil {
		return s.uncustFn(ctx, cmd)
	}
	return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
}

func (s *stubDraftService) ClearDraft(ctx context.Context, clientID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, clientID)
	}
	return nil
}

var _ services.QuoteDraftService = (*stubDraftService)(nil)

func newDraftTestRouter(drafts services.QuoteDraftService) chi.Router {
	h := NewMeHandlers(MeHandlersDeps{Drafts: drafts})
	r := chi.NewRouter()
	r.Route("/me", h.Routes)
	return r
}

func withClientIdentity(req *http.Request, uid string) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: []string{auth.RoleClient}}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestQuoteDraftGetReturnsDraft(t *testing.T) {
	drafts := &stubDraftService{
		getFn: func(ctx context.Context, clientID string) (domain.QuoteDraft, error) {
			if clientID != "client-1" {
				t.Fatalf("expected client-1, got %s", clientID)
			}
			return domain.QuoteDraft{
				ClientID: clientID,
				Items: []domain.QuoteDraftItem{{
					ProductID:     "prd_1",
					ProductName:   "Classic Hoodie",
					BasePrice:     35000,
					SizeBreakdown: map[string]int{"M": 2, "L": 1},
				}},
				UpdatedAt: time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newDraftTestRouter(drafts)

	req := withClientIdentity(httptest.NewRequest(http.MethodGet, "/me/quote-draft", nil), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body draftPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(body.Items))
	}
	if body.Items[0].Units != 3 {
		t.Fatalf("expected 3 units, got %d", body.Items[0].Units)
	}
	if body.TotalUnits != 3 {
		t.Fatalf("expected total units 3, got %d", body.TotalUnits)
	}
	if body.TotalPrice != 105000 {
		t.Fatalf("expected total price 105000, got %d", body.TotalPrice)
	}
}

func TestQuoteDraftAddItemForwardsCommand(t *testing.T) {
	var captured services.AddDraftItemCommand
	drafts := &stubDraftService{
		addFn: func(ctx context.Context, cmd services.AddDraftItemCommand) (domain.QuoteDraft, error) {
			captured = cmd
			return domain.QuoteDraft{ClientID: cmd.ClientID}, nil
		},
	}
	router := newDraftTestRouter(drafts)

	payload := `{"product_id":"prd_1","size_breakdown":{"M":2,"L":1}}`
	req := withClientIdentity(httptest.NewRequest(http.MethodPost, "/me/quote-draft/items", strings.NewReader(payload)), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ClientID != "client-1" {
		t.Fatalf("expected client-1, got %s", captured.ClientID)
	}
	if captured.ProductID != "prd_1" {
		t.Fatalf("expected prd_1, got %s", captured.ProductID)
	}
	if captured.SizeBreakdown["M"] != 2 || captured.SizeBreakdown["L"] != 1 {
		t.Fatalf("unexpected size breakdown: %v", captured.SizeBreakdown)
	}
}

func TestQuoteDraftAddItemRejectsEmptyBody(t *testing.T) {
	router := newDraftTestRouter(&stubDraftService{})

	req := withClientIdentity(httptest.NewRequest(http.MethodPost, "/me/quote-draft/items", strings.NewReader("")), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestQuoteDraftRejectsMalformedIndex(t *testing.T) {
	router := newDraftTestRouter(&stubDraftService{})

	req := withClientIdentity(httptest.NewRequest(http.MethodDelete, "/me/quote-draft/items/abc", nil), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request error, got %v", body["error"])
	}
}

func TestQuoteDraftPrintTooLargeMapsTo422(t *testing.T) {
	drafts := &stubDraftService{
		custFn: func(ctx context.Context, cmd services.AddCustomizationCommand) (domain.QuoteDraft, error) {
			return domain.QuoteDraft{}, services.ErrDraftPrintTooLarge
		},
	}
	router := newDraftTestRouter(drafts)

	payload := `{"technique":"DTF","location_id":"manga","size_name":"MEDIO PLIEGO"}`
	req := withClientIdentity(httptest.NewRequest(http.MethodPost, "/me/quote-draft/items/0/customizations", strings.NewReader(payload)), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestQuoteDraftRequiresIdentity(t *testing.T) {
	router := newDraftTestRouter(&stubDraftService{})

	req := httptest.NewRequest(http.MethodGet, "/me/quote-draft", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
