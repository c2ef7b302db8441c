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

const uploadedDesignsCollection = "uploaded_designs"

// DesignRepository persists uploaded artwork metadata.
type DesignRepository struct {
	base *pfirestore.BaseRepository[uploadedDesignDocument]
}

// NewDesignRepository constructs a Firestore-backed design repository.
func NewDesignRepository(provider *pfirestore.Provider) (*DesignRepository, error) {
	if provider == nil {
		return nil, errors.New("design repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[uploadedDesignDocument](provider, uploadedDesignsCollection, nil, nil)
	return &DesignRepository{base: base}, nil
}

// Insert stores a new design document. The ID must be unique.
func (r *DesignRepository) Insert(ctx context.Context, design domain.UploadedDesign) error {
	if r == nil || r.base == nil {
		return errors.New("design repository not initialised")
	}
	designID := strings.TrimSpace(design.ID)
	if designID == "" {
		return errors.New("design repository: design id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, designID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeUploadedDesignDocument(design)); err != nil {
		return pfirestore.WrapError("uploaded_designs.insert", err)
	}
	return nil
}

// Update replaces the persisted design state with the provided snapshot.
func (r *DesignRepository) Update(ctx context.Context, design domain.UploadedDesign) error {
	if r == nil || r.base == nil {
		return errors.New("design repository not initialised")
	}
	designID := strings.TrimSpace(design.ID)
	if designID == "" {
		return errors.New("design repository: design id is required")
	}
	if _, err := r.base.Set(ctx, designID, encodeUploadedDesignDocument(design)); err != nil {
		return err
	}
	return nil
}

// Delete removes the design document.
func (r *DesignRepository) Delete(ctx context.Context, designID string) error {
	if r == nil || r.base == nil {
		return errors.New("design repository not initialised")
	}
	designID = strings.TrimSpace(designID)
	if designID == "" {
		return errors.New("design repository: design id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, designID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("uploaded_designs.delete", err)
	}
	return nil
}

// FindByID fetches a single design.
func (r *DesignRepository) FindByID(ctx context.Context, designID string) (domain.UploadedDesign, error) {
	if r == nil || r.base == nil {
		return domain.UploadedDesign{}, errors.New("design repository not initialised")
	}
	designID = strings.TrimSpace(designID)
	if designID == "" {
		return domain.UploadedDesign{}, errors.New("design repository: design id is required")
	}
	doc, err := r.base.Get(ctx, designID)
	if err != nil {
		return domain.UploadedDesign{}, err
	}
	return decodeUploadedDesignDocument(doc.ID, doc.Data, doc.CreateTime), nil
}

// ListByOwner returns designs owned by the user, newest upload first.
func (r *DesignRepository) ListByOwner(ctx context.Context, userID string, filter repositories.DesignListFilter) (domain.CursorPage[domain.UploadedDesign], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.UploadedDesign]{}, errors.New("design repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.UploadedDesign]{}, errors.New("design repository: user id is required")
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
			return domain.CursorPage[domain.UploadedDesign]{}, fmt.Errorf("design repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if filter.FileType != nil {
			q = q.Where("fileType", "==", string(*filter.FileType))
		}
		q = q.OrderBy("uploadedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.UploadedDesign]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.UploadedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.UploadedDesign, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeUploadedDesignDocument(doc.ID, doc.Data, doc.CreateTime))
	}
	return domain.CursorPage[domain.UploadedDesign]{Items: items, NextPageToken: nextToken}, nil
}

type uploadedDesignDocument struct {
	UserID           string    `firestore:"userId"`
	Name             string    `firestore:"name"`
	URL              string    `firestore:"url"`
	ThumbnailURL     string    `firestore:"thumbnailUrl,omitempty"`
	OriginalFileName string    `firestore:"originalFileName"`
	FileType         string    `firestore:"fileType"`
	FileSizeBytes    int64     `firestore:"fileSize"`
	UploadedAt       time.Time `firestore:"uploadedAt"`
	UsedInQuotes     []string  `firestore:"usedInQuotes"`
	UsedInOrders     []string  `firestore:"usedInOrders"`
	IsPublic         bool      `firestore:"isPublic"`
}

func encodeUploadedDesignDocument(design domain.UploadedDesign) uploadedDesignDocument {
	return uploadedDesignDocument{
		UserID:           design.UserID,
		Name:             strings.TrimSpace(design.Name),
		URL:              design.URL,
		ThumbnailURL:     design.ThumbnailURL,
		OriginalFileName: design.OriginalFileName,
		FileType:         string(design.FileType),
		FileSizeBytes:    design.FileSizeBytes,
		UploadedAt:       design.UploadedAt.UTC(),
		UsedInQuotes:     append([]string{}, design.UsedInQuotes...),
		UsedInOrders:     append([]string{}, design.UsedInOrders...),
		IsPublic:         design.IsPublic,
	}
}

func decodeUploadedDesignDocument(id string, doc uploadedDesignDocument, createTime time.Time) domain.UploadedDesign {
	design := domain.UploadedDesign{
		ID:               id,
		UserID:           doc.UserID,
		Name:             doc.Name,
		URL:              doc.URL,
		ThumbnailURL:     doc.ThumbnailURL,
		OriginalFileName: doc.OriginalFileName,
		FileType:         domain.DesignFileType(doc.FileType),
		FileSizeBytes:    doc.FileSizeBytes,
		UploadedAt:       doc.UploadedAt,
		UsedInQuotes:     append([]string(nil), doc.UsedInQuotes...),
		UsedInOrders:     append([]string(nil), doc.UsedInOrders...),
		IsPublic:         doc.IsPublic,
	}
	if design.UploadedAt.IsZero() {
		design.UploadedAt = createTime
	}
	return design
}
