package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/printy-garments/api/internal/domain"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
	"github.com/printy-garments/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders and provides Kanban-style listings.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. Participates in an ambient
// transaction when one is carried in ctx so approval can create the order
// atomically with the quotation update.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(docRef, encodeOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Set(docRef, encodeOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}
	if _, err := docRef.Set(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if trimmed := strings.TrimSpace(string(s)); trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if clientID := strings.TrimSpace(filter.ClientID); clientID != "" {
			q = q.Where("clientId", "==", clientID)
		}
		if commercialID := strings.TrimSpace(filter.CommercialID); commercialID != "" {
			q = q.Where("commercialId", "==", commercialID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			q = q.Where("status", "in", statusFilters)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

type orderDocument struct {
	OrderNumber  string                  `firestore:"orderNumber"`
	QuotationID  string                  `firestore:"quotationId"`
	ClientID     string                  `firestore:"clientId"`
	CommercialID string                  `firestore:"commercialId"`
	Status       string                  `firestore:"status"`
	Items        []quotationItemDocument `firestore:"items"`
	Subtotal     int64                   `firestore:"subtotal"`
	IVAAmount    int64                   `firestore:"ivaAmount"`
	Total        int64                   `firestore:"total"`
	Payment      orderPaymentDocument    `firestore:"payment"`
	Delivery     orderDeliveryDocument   `firestore:"delivery"`
	Notes        string                  `firestore:"notes,omitempty"`
	CreatedAt    time.Time               `firestore:"createdAt"`
	UpdatedAt    time.Time               `firestore:"updatedAt"`
	CompletedAt  *time.Time              `firestore:"completedAt,omitempty"`
}

type orderPaymentDocument struct {
	Method     string     `firestore:"method"`
	ProofURL   string     `firestore:"proofUrl,omitempty"`
	UploadedAt *time.Time `firestore:"uploadedAt,omitempty"`
	VerifiedBy string     `firestore:"verifiedBy,omitempty"`
	VerifiedAt *time.Time `firestore:"verifiedAt,omitempty"`
	Notes      string     `firestore:"notes,omitempty"`
}

type orderDeliveryDocument struct {
	Type     string                   `firestore:"type"`
	Schedule []deliveryWindowDocument `firestore:"schedule"`
}

type deliveryWindowDocument struct {
	Quantity      int        `firestore:"quantity"`
	ScheduledDate time.Time  `firestore:"scheduledDate"`
	Delivered     bool       `firestore:"delivered"`
	DeliveredAt   *time.Time `firestore:"deliveredAt,omitempty"`
	Tracking      string     `firestore:"tracking,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:  order.OrderNumber,
		QuotationID:  order.QuotationID,
		ClientID:     order.ClientID,
		CommercialID: order.CommercialID,
		Status:       string(order.Status),
		Subtotal:     order.Subtotal,
		IVAAmount:    order.IVAAmount,
		Total:        order.Total,
		Payment: orderPaymentDocument{
			Method:     string(order.Payment.Method),
			ProofURL:   order.Payment.ProofURL,
			UploadedAt: order.Payment.UploadedAt,
			VerifiedBy: order.Payment.VerifiedBy,
			VerifiedAt: order.Payment.VerifiedAt,
			Notes:      order.Payment.Notes,
		},
		Delivery: orderDeliveryDocument{
			Type:     string(order.Delivery.Type),
			Schedule: []deliveryWindowDocument{},
		},
		Notes:       order.Notes,
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		CompletedAt: order.CompletedAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, encodeQuotationItem(item))
	}
	for _, window := range order.Delivery.Schedule {
		doc.Delivery.Schedule = append(doc.Delivery.Schedule, deliveryWindowDocument{
			Quantity:      window.Quantity,
			ScheduledDate: window.ScheduledDate.UTC(),
			Delivered:     window.Delivered,
			DeliveredAt:   window.DeliveredAt,
			Tracking:      window.Tracking,
		})
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createTime time.Time) domain.Order {
	order := domain.Order{
		ID:           id,
		OrderNumber:  doc.OrderNumber,
		QuotationID:  doc.QuotationID,
		ClientID:     doc.ClientID,
		CommercialID: doc.CommercialID,
		Status:       domain.OrderStatus(doc.Status),
		Subtotal:     doc.Subtotal,
		IVAAmount:    doc.IVAAmount,
		Total:        doc.Total,
		Payment: domain.OrderPayment{
			Method:     domain.PaymentMethod(doc.Payment.Method),
			ProofURL:   doc.Payment.ProofURL,
			UploadedAt: doc.Payment.UploadedAt,
			VerifiedBy: doc.Payment.VerifiedBy,
			VerifiedAt: doc.Payment.VerifiedAt,
			Notes:      doc.Payment.Notes,
		},
		Delivery: domain.OrderDelivery{
			Type: domain.DeliveryType(doc.Delivery.Type),
		},
		Notes:       doc.Notes,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		CompletedAt: doc.CompletedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, decodeQuotationItem(item))
	}
	for _, window := range doc.Delivery.Schedule {
		order.Delivery.Schedule = append(order.Delivery.Schedule, domain.DeliveryWindow{
			Quantity:      window.Quantity,
			ScheduledDate: window.ScheduledDate,
			Delivered:     window.Delivered,
			DeliveredAt:   window.DeliveredAt,
			Tracking:      window.Tracking,
		})
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = createTime
	}
	return order
}
