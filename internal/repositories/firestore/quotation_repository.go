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

const quotationsCollection = "quotations"

// QuotationRepository persists submitted quotations and owns the bulk
// expiry sweep.
type QuotationRepository struct {
	base     *pfirestore.BaseRepository[quotationDocument]
	provider *pfirestore.Provider
}

// NewQuotationRepository constructs a Firestore-backed quotation repository.
func NewQuotationRepository(provider *pfirestore.Provider) (*QuotationRepository, error) {
	if provider == nil {
		return nil, errors.New("quotation repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[quotationDocument](provider, quotationsCollection, nil, nil)
	return &QuotationRepository{base: base, provider: provider}, nil
}

// Insert stores a new quotation document. The ID must be unique.
func (r *QuotationRepository) Insert(ctx context.Context, quotation domain.Quotation) error {
	if r == nil || r.base == nil {
		return errors.New("quotation repository not initialised")
	}
	quotationID := strings.TrimSpace(quotation.ID)
	if quotationID == "" {
		return errors.New("quotation repository: quotation id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, quotationID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(docRef, encodeQuotationDocument(quotation)); err != nil {
			return pfirestore.WrapError("quotations.insert", err)
		}
		return nil
	}
	if _, err := docRef.Create(ctx, encodeQuotationDocument(quotation)); err != nil {
		return pfirestore.WrapError("quotations.insert", err)
	}
	return nil
}

// Update replaces the persisted quotation state with the provided snapshot.
// Participates in an ambient transaction when one is carried in ctx.
func (r *QuotationRepository) Update(ctx context.Context, quotation domain.Quotation) error {
	if r == nil || r.base == nil {
		return errors.New("quotation repository not initialised")
	}
	quotationID := strings.TrimSpace(quotation.ID)
	if quotationID == "" {
		return errors.New("quotation repository: quotation id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, quotationID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Set(docRef, encodeQuotationDocument(quotation)); err != nil {
			return pfirestore.WrapError("quotations.update", err)
		}
		return nil
	}
	if _, err := docRef.Set(ctx, encodeQuotationDocument(quotation)); err != nil {
		return pfirestore.WrapError("quotations.update", err)
	}
	return nil
}

// FindByID fetches a single quotation.
func (r *QuotationRepository) FindByID(ctx context.Context, quotationID string) (domain.Quotation, error) {
	if r == nil || r.base == nil {
		return domain.Quotation{}, errors.New("quotation repository not initialised")
	}
	quotationID = strings.TrimSpace(quotationID)
	if quotationID == "" {
		return domain.Quotation{}, errors.New("quotation repository: quotation id is required")
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		docRef, err := r.base.DocumentRef(ctx, quotationID)
		if err != nil {
			return domain.Quotation{}, err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return domain.Quotation{}, pfirestore.WrapError("quotations.get", err)
		}
		var doc quotationDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Quotation{}, pfirestore.WrapError("quotations.get", err)
		}
		return decodeQuotationDocument(snap.Ref.ID, doc, snap.CreateTime), nil
	}
	doc, err := r.base.Get(ctx, quotationID)
	if err != nil {
		return domain.Quotation{}, err
	}
	return decodeQuotationDocument(doc.ID, doc.Data, doc.CreateTime), nil
}

// List returns quotations matching the filter, newest first.
func (r *QuotationRepository) List(ctx context.Context, filter repositories.QuotationListFilter) (domain.CursorPage[domain.Quotation], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Quotation]{}, errors.New("quotation repository not initialised")
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
			return domain.CursorPage[domain.Quotation]{}, fmt.Errorf("quotation repository: invalid page token: %w", err)
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
		return domain.CursorPage[domain.Quotation]{}, err
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

	items := make([]domain.Quotation, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeQuotationDocument(doc.ID, doc.Data, doc.CreateTime))
	}
	return domain.CursorPage[domain.Quotation]{Items: items, NextPageToken: nextToken}, nil
}

// ExpireStale transitions pending_approval quotations whose ExpiresAt is
// before the cutoff to expired. Re-running after a partial failure picks up
// the remaining documents because expired quotations no longer match the
// query.
func (r *QuotationRepository) ExpireStale(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return 0, errors.New("quotation repository not initialised")
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	cutoff = cutoff.UTC()

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for {
		snaps, err := client.Collection(quotationsCollection).
			Where("status", "==", string(domain.QuotationStatusPendingApproval)).
			Where("expiresAt", "<", cutoff).
			Limit(batchSize).
			Documents(ctx).GetAll()
		if err != nil {
			return expired, pfirestore.WrapError("quotations.expire_stale", err)
		}
		if len(snaps) == 0 {
			return expired, nil
		}

		writer := client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
		for _, snap := range snaps {
			job, err := writer.Update(snap.Ref, []firestore.Update{
				{Path: "status", Value: string(domain.QuotationStatusExpired)},
				{Path: "updatedAt", Value: cutoff},
			})
			if err != nil {
				writer.End()
				return expired, pfirestore.WrapError("quotations.expire_stale", err)
			}
			jobs = append(jobs, job)
		}
		writer.End()

		// Update only reports enqueue validation; the write outcome arrives
		// per job. Count successes and stop on the first failed write so a
		// persistently failing batch cannot loop forever.
		var writeErr error
		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				if writeErr == nil {
					writeErr = err
				}
				continue
			}
			expired++
		}
		if writeErr != nil {
			return expired, pfirestore.WrapError("quotations.expire_stale", writeErr)
		}

		if len(snaps) < batchSize {
			return expired, nil
		}
	}
}

type quotationDocument struct {
	QuotationNumber             string                  `firestore:"quotationNumber"`
	ClientID                    string                  `firestore:"clientId"`
	CommercialID                string                  `firestore:"commercialId"`
	Status                      string                  `firestore:"status"`
	Items                       []quotationItemDocument `firestore:"items"`
	Subtotal                    int64                   `firestore:"subtotal"`
	IVAPercent                  float64                 `firestore:"ivaPercent"`
	IVAAmount                   int64                   `firestore:"ivaAmount"`
	Total                       int64                   `firestore:"total"`
	TotalUnits                  int                     `firestore:"totalUnits"`
	EstimatedDays               *int                    `firestore:"estimatedDays"`
	EstimatedDaysNote           string                  `firestore:"estimatedDaysNote,omitempty"`
	RequiresCommercialApproval  bool                    `firestore:"requiresCommercialApproval"`
	ClientDeliveryPreference    string                  `firestore:"clientDeliveryPreference,omitempty"`
	DeliveryPreferenceConfirmed bool                    `firestore:"deliveryPreferenceConfirmed"`
	RejectionReason             string                  `firestore:"rejectionReason,omitempty"`
	ExpiresAt                   time.Time               `firestore:"expiresAt"`
	CreatedAt                   time.Time               `firestore:"createdAt"`
	UpdatedAt                   time.Time               `firestore:"updatedAt"`
}

type quotationItemDocument struct {
	ProductID       string                  `firestore:"productId"`
	ProductName     string                  `firestore:"productName"`
	ProductColor    string                  `firestore:"productColor"`
	BasePrice       int64                   `firestore:"basePrice"`
	SizeBreakdown   map[string]int          `firestore:"sizeBreakdown"`
	Customizations  []customizationDocument `firestore:"customizations"`
	Subtotal        int64                   `firestore:"subtotal"`
	DiscountPercent float64                 `firestore:"discountPercent"`
	DiscountAmount  int64                   `firestore:"discountAmount"`
	ItemTotal       int64                   `firestore:"itemTotal"`
}

type customizationDocument struct {
	Technique         string  `firestore:"technique"`
	LocationID        string  `firestore:"locationId"`
	LocationName      string  `firestore:"locationName"`
	SizeName          string  `firestore:"sizeName"`
	WidthCM           float64 `firestore:"width"`
	HeightCM          float64 `firestore:"height"`
	DesignURL         string  `firestore:"designUrl,omitempty"`
	DesignDescription string  `firestore:"designDescription,omitempty"`
	PricePerUnit      int64   `firestore:"pricePerUnit"`
	Quantity          int     `firestore:"quantity"`
	Subtotal          int64   `firestore:"subtotal"`
	TierLabel         string  `firestore:"tierUsed,omitempty"`
	MetersNeeded      float64 `firestore:"metersNeeded"`
}

func encodeCustomization(c domain.QuotationCustomization) customizationDocument {
	return customizationDocument{
		Technique:         string(c.Technique),
		LocationID:        c.LocationID,
		LocationName:      c.LocationName,
		SizeName:          c.SizeName,
		WidthCM:           c.WidthCM,
		HeightCM:          c.HeightCM,
		DesignURL:         c.DesignURL,
		DesignDescription: c.DesignDescription,
		PricePerUnit:      c.PricePerUnit,
		Quantity:          c.Quantity,
		Subtotal:          c.Subtotal,
		TierLabel:         c.TierLabel,
		MetersNeeded:      c.MetersNeeded,
	}
}

func decodeCustomization(doc customizationDocument) domain.QuotationCustomization {
	return domain.QuotationCustomization{
		Technique:         domain.PrintTechnique(doc.Technique),
		LocationID:        doc.LocationID,
		LocationName:      doc.LocationName,
		SizeName:          doc.SizeName,
		WidthCM:           doc.WidthCM,
		HeightCM:          doc.HeightCM,
		DesignURL:         doc.DesignURL,
		DesignDescription: doc.DesignDescription,
		PricePerUnit:      doc.PricePerUnit,
		Quantity:          doc.Quantity,
		Subtotal:          doc.Subtotal,
		TierLabel:         doc.TierLabel,
		MetersNeeded:      doc.MetersNeeded,
	}
}

func encodeQuotationItem(item domain.QuotationItem) quotationItemDocument {
	doc := quotationItemDocument{
		ProductID:       item.ProductID,
		ProductName:     item.ProductName,
		ProductColor:    item.ProductColor,
		BasePrice:       item.BasePrice,
		SizeBreakdown:   cloneSizeBreakdown(item.SizeBreakdown),
		Subtotal:        item.Subtotal,
		DiscountPercent: item.DiscountPercent,
		DiscountAmount:  item.DiscountAmount,
		ItemTotal:       item.ItemTotal,
	}
	for _, c := range item.Customizations {
		doc.Customizations = append(doc.Customizations, encodeCustomization(c))
	}
	return doc
}

func decodeQuotationItem(doc quotationItemDocument) domain.QuotationItem {
	item := domain.QuotationItem{
		ProductID:       doc.ProductID,
		ProductName:     doc.ProductName,
		ProductColor:    doc.ProductColor,
		BasePrice:       doc.BasePrice,
		SizeBreakdown:   cloneSizeBreakdown(doc.SizeBreakdown),
		Subtotal:        doc.Subtotal,
		DiscountPercent: doc.DiscountPercent,
		DiscountAmount:  doc.DiscountAmount,
		ItemTotal:       doc.ItemTotal,
	}
	for _, c := range doc.Customizations {
		item.Customizations = append(item.Customizations, decodeCustomization(c))
	}
	return item
}

func encodeQuotationDocument(q domain.Quotation) quotationDocument {
	doc := quotationDocument{
		QuotationNumber:             q.QuotationNumber,
		ClientID:                    q.ClientID,
		CommercialID:                q.CommercialID,
		Status:                      string(q.Status),
		Subtotal:                    q.Subtotal,
		IVAPercent:                  q.IVAPercent,
		IVAAmount:                   q.IVAAmount,
		Total:                       q.Total,
		TotalUnits:                  q.TotalUnits,
		EstimatedDays:               q.EstimatedDays,
		EstimatedDaysNote:           q.EstimatedDaysNote,
		RequiresCommercialApproval:  q.RequiresCommercialApproval,
		ClientDeliveryPreference:    string(q.ClientDeliveryPreference),
		DeliveryPreferenceConfirmed: q.DeliveryPreferenceConfirmed,
		RejectionReason:             q.RejectionReason,
		ExpiresAt:                   q.ExpiresAt.UTC(),
		CreatedAt:                   q.CreatedAt.UTC(),
		UpdatedAt:                   q.UpdatedAt.UTC(),
	}
	for _, item := range q.Items {
		doc.Items = append(doc.Items, encodeQuotationItem(item))
	}
	return doc
}

func decodeQuotationDocument(id string, doc quotationDocument, createTime time.Time) domain.Quotation {
	q := domain.Quotation{
		ID:                          id,
		QuotationNumber:             doc.QuotationNumber,
		ClientID:                    doc.ClientID,
		CommercialID:                doc.CommercialID,
		Status:                      domain.QuotationStatus(doc.Status),
		Subtotal:                    doc.Subtotal,
		IVAPercent:                  doc.IVAPercent,
		IVAAmount:                   doc.IVAAmount,
		Total:                       doc.Total,
		TotalUnits:                  doc.TotalUnits,
		EstimatedDays:               doc.EstimatedDays,
		EstimatedDaysNote:           doc.EstimatedDaysNote,
		RequiresCommercialApproval:  doc.RequiresCommercialApproval,
		ClientDeliveryPreference:    domain.DeliveryPreference(doc.ClientDeliveryPreference),
		DeliveryPreferenceConfirmed: doc.DeliveryPreferenceConfirmed,
		RejectionReason:             doc.RejectionReason,
		ExpiresAt:                   doc.ExpiresAt,
		CreatedAt:                   doc.CreatedAt,
		UpdatedAt:                   doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		q.Items = append(q.Items, decodeQuotationItem(item))
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = createTime
	}
	return q
}
