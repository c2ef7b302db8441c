package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/printy-garments/api/internal/domain"
	pfirestore "github.com/printy-garments/api/internal/platform/firestore"
)

const quoteDraftsCollection = "quote_drafts"

// QuoteDraftRepository stores the single working draft per client, keyed by
// the client UID.
type QuoteDraftRepository struct {
	base *pfirestore.BaseRepository[quoteDraftDocument]
}

// NewQuoteDraftRepository constructs a Firestore-backed quote draft repository.
func NewQuoteDraftRepository(provider *pfirestore.Provider) (*QuoteDraftRepository, error) {
	if provider == nil {
		return nil, errors.New("quote draft repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[quoteDraftDocument](provider, quoteDraftsCollection, nil, nil)
	return &QuoteDraftRepository{base: base}, nil
}

// Get fetches the client's working draft.
func (r *QuoteDraftRepository) Get(ctx context.Context, clientID string) (domain.QuoteDraft, error) {
	if r == nil || r.base == nil {
		return domain.QuoteDraft{}, errors.New("quote draft repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.QuoteDraft{}, errors.New("quote draft repository: client id is required")
	}
	doc, err := r.base.Get(ctx, clientID)
	if err != nil {
		return domain.QuoteDraft{}, err
	}
	return decodeQuoteDraftDocument(doc.ID, doc.Data, doc.UpdateTime), nil
}

// Save replaces the client's working draft.
func (r *QuoteDraftRepository) Save(ctx context.Context, draft domain.QuoteDraft) error {
	if r == nil || r.base == nil {
		return errors.New("quote draft repository not initialised")
	}
	clientID := strings.TrimSpace(draft.ClientID)
	if clientID == "" {
		return errors.New("quote draft repository: client id is required")
	}
	if _, err := r.base.Set(ctx, clientID, encodeQuoteDraftDocument(draft)); err != nil {
		return err
	}
	return nil
}

// Delete removes the client's working draft. Deleting an absent draft is
// not an error.
func (r *QuoteDraftRepository) Delete(ctx context.Context, clientID string) error {
	if r == nil || r.base == nil {
		return errors.New("quote draft repository not initialised")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return errors.New("quote draft repository: client id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, clientID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("quote_drafts.delete", err)
	}
	return nil
}

type quoteDraftDocument struct {
	Items     []quoteDraftItemDocument `firestore:"items"`
	UpdatedAt time.Time                `firestore:"updatedAt"`
}

type quoteDraftItemDocument struct {
	ProductID      string                  `firestore:"productId"`
	ProductName    string                  `firestore:"productName"`
	ProductColor   string                  `firestore:"productColor"`
	BasePrice      int64                   `firestore:"basePrice"`
	SizeBreakdown  map[string]int          `firestore:"sizeBreakdown"`
	Customizations []customizationDocument `firestore:"customizations"`
}

func encodeQuoteDraftDocument(draft domain.QuoteDraft) quoteDraftDocument {
	doc := quoteDraftDocument{UpdatedAt: draft.UpdatedAt.UTC()}
	for _, item := range draft.Items {
		itemDoc := quoteDraftItemDocument{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			ProductColor:  item.ProductColor,
			BasePrice:     item.BasePrice,
			SizeBreakdown: cloneSizeBreakdown(item.SizeBreakdown),
		}
		for _, c := range item.Customizations {
			itemDoc.Customizations = append(itemDoc.Customizations, encodeCustomization(c))
		}
		doc.Items = append(doc.Items, itemDoc)
	}
	return doc
}

func decodeQuoteDraftDocument(clientID string, doc quoteDraftDocument, updateTime time.Time) domain.QuoteDraft {
	draft := domain.QuoteDraft{ClientID: clientID, UpdatedAt: doc.UpdatedAt}
	for _, itemDoc := range doc.Items {
		item := domain.QuoteDraftItem{
			ProductID:     itemDoc.ProductID,
			ProductName:   itemDoc.ProductName,
			ProductColor:  itemDoc.ProductColor,
			BasePrice:     itemDoc.BasePrice,
			SizeBreakdown: cloneSizeBreakdown(itemDoc.SizeBreakdown),
		}
		for _, c := range itemDoc.Customizations {
			item.Customizations = append(item.Customizations, decodeCustomization(c))
		}
		draft.Items = append(draft.Items, item)
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = updateTime
	}
	return draft
}

func cloneSizeBreakdown(breakdown map[string]int) map[string]int {
	if breakdown == nil {
		return nil
	}
	cloned := make(map[string]int, len(breakdown))
	for size, qty := range breakdown {
		cloned[size] = qty
	}
	return cloned
}
