package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

type stubOrderService struct {
	getFn        func(ctx context.Context, cmd services.GetOrderCommand) (domain.Order, error)
	listFn       func(ctx context.Context, filter services.OrderListQuery) (domain.CursorPage[domain.Order], error)
	transitionFn func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error)
	proofFn      func(ctx context.Context, cmd services.AttachPaymentProofCommand) (domain.Order, error)
	verifyFn     func(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error)
	deliveryFn   func(ctx context.Context, cmd services.UpdateDeliveryScheduleCommand) (domain.Order, error)
	deliveredFn  func(ctx context.Context, cmd services.MarkWindowDeliveredCommand) (domain.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) AttachPaymentProof(ctx context.Context, cmd services.AttachPaymentProofCommand) (domain.Order, error) {
	if s.proofFn != nil {
		return s.proofFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) UpdateDeliverySchedule(ctx context.Context, cmd services.UpdateDeliveryScheduleCommand) (domain.Order, error) {
	if s.deliveryFn != nil {
		return s.deliveryFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) MarkWindowDelivered(ctx context.Context, cmd services.MarkWindowDeliveredCommand) (domain.Order, error) {
	if s.deliveredFn != nil {
		return s.deliveredFn(ctx, cmd)
	}
	return domain.Order{ID: cmd.OrderID}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrderTestRouter(orders services.OrderService) chi.Router {
	h := NewMeHandlers(MeHandlersDeps{Orders: orders})
	r := chi.NewRouter()
	r.Route("/me", h.Routes)
	return r
}

func buildProofRequest(t *testing.T, orderID, fileName, contentType string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="proof"; filename="` + fileName + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/me/orders/"+orderID+"/payment-proof", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestAttachPaymentProofStreamsFile(t *testing.T) {
	var captured services.AttachPaymentProofCommand
	var capturedBody []byte
	orders := &stubOrderService{
		proofFn: func(ctx context.Context, cmd services.AttachPaymentProofCommand) (domain.Order, error) {
			captured = cmd
			data, err := io.ReadAll(cmd.Body)
			if err != nil {
				t.Fatalf("failed to read proof body: %v", err)
			}
			capturedBody = data
			uploaded := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)
			return domain.Order{
				ID:     cmd.OrderID,
				Status: domain.OrderStatusConfirmed,
				Payment: domain.OrderPayment{
					Method:     domain.PaymentTransfer,
					ProofURL:   "gs://proofs/ord_1/transfer.pdf",
					UploadedAt: &uploaded,
				},
			}, nil
		},
	}
	router := newOrderTestRouter(orders)

	req := withClientIdentity(buildProofRequest(t, "ord_1", "transfer.pdf", "application/pdf", []byte("%PDF-1.4 test")), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" {
		t.Fatalf("expected ord_1, got %s", captured.OrderID)
	}
	if captured.FileName != "transfer.pdf" {
		t.Fatalf("expected transfer.pdf, got %s", captured.FileName)
	}
	if captured.ContentType != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", captured.ContentType)
	}
	if string(capturedBody) != "%PDF-1.4 test" {
		t.Fatalf("proof body did not stream through")
	}

	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != string(domain.OrderStatusConfirmed) {
		t.Fatalf("expected confirmed, got %s", body.Status)
	}
	if body.Payment.ProofURL == "" {
		t.Fatalf("expected proof URL in response")
	}
}

func TestAttachPaymentProofRequiresFilePart(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("note", "no file here")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/me/orders/ord_1/payment-proof", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req = withClientIdentity(req, "client-1")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAttachPaymentProofUnsupportedTypeMapsTo415(t *testing.T) {
	orders := &stubOrderService{
		proofFn: func(ctx context.Context, cmd services.AttachPaymentProofCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrProofUnsupportedType
		},
	}
	router := newOrderTestRouter(orders)

	req := withClientIdentity(buildProofRequest(t, "ord_1", "notes.txt", "text/plain", []byte("hello")), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status 415, got %d", rr.Code)
	}
}

func TestAttachPaymentProofRateLimited(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderTestRouter(orders)

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := withClientIdentity(buildProofRequest(t, "ord_1", "transfer.pdf", "application/pdf", []byte("x")), "client-1")
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after repeated uploads, got %d", last.Code)
	}
}

func TestListOrdersParsesStatusFilter(t *testing.T) {
	var captured services.OrderListQuery
	orders := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}, NextPageToken: "tok"}, nil
		},
	}
	router := newOrderTestRouter(orders)

	req := withClientIdentity(httptest.NewRequest(http.MethodGet, "/me/orders?status=pending_payment,confirmed&page_size=10", nil), "client-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(captured.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %v", captured.Status)
	}
	if captured.Status[0] != domain.OrderStatusPendingPayment || captured.Status[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status filters: %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", captured.Pagination.PageSize)
	}
	if captured.Actor.UID != "client-1" || captured.Actor.Role != domain.RoleClient {
		t.Fatalf("unexpected actor: %+v", captured.Actor)
	}

	var body listPayload[orderPayload]
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "tok" {
		t.Fatalf("unexpected page payload: %+v", body)
	}
}
