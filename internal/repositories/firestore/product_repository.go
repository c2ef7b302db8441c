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

const productsCollection = "products"

// ProductRepository persists catalog garments in Firestore.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// Insert stores a new product document. The ID must be unique.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the persisted product state with the provided snapshot.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.base.Set(ctx, productID, encodeProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns catalog products ordered by creation time, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
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
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Category != nil {
			q = q.Where("category", "==", string(*filter.Category))
		}
		if filter.OnlyAvailable {
			q = q.Where("available", "==", true)
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
		return domain.CursorPage[domain.Product]{}, err
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

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: nextToken}, nil
}

type productDocument struct {
	Name               string                 `firestore:"name"`
	Reference          string                 `firestore:"reference"`
	Color              string                 `firestore:"color"`
	Category           string                 `firestore:"category"`
	Fit                string                 `firestore:"fit"`
	Material           string                 `firestore:"material"`
	WeightGSM          int                    `firestore:"weight"`
	Images             []string               `firestore:"images"`
	BasePrice          int64                  `firestore:"basePrice"`
	Available          bool                   `firestore:"available"`
	MaxDiscountPercent float64                `firestore:"maxDiscountPercent"`
	SizeChart          []sizeChartRowDocument `firestore:"sizeChart"`
	Features           []string               `firestore:"features,omitempty"`
	Description        string                 `firestore:"description,omitempty"`
	CreatedAt          time.Time              `firestore:"createdAt"`
	UpdatedAt          time.Time              `firestore:"updatedAt"`
}

type sizeChartRowDocument struct {
	Size   string  `firestore:"size"`
	Chest  float64 `firestore:"chest"`
	Length float64 `firestore:"length"`
	Sleeve float64 `firestore:"sleeve"`
}

func encodeProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		Name:               strings.TrimSpace(product.Name),
		Reference:          strings.TrimSpace(product.Reference),
		Color:              strings.TrimSpace(product.Color),
		Category:           string(product.Category),
		Fit:                string(product.Fit),
		Material:           strings.TrimSpace(product.Material),
		WeightGSM:          product.WeightGSM,
		Images:             append([]string(nil), product.Images...),
		BasePrice:          product.BasePrice,
		Available:          product.Available,
		MaxDiscountPercent: product.MaxDiscountPercent,
		Features:           append([]string(nil), product.Features...),
		Description:        strings.TrimSpace(product.Description),
		CreatedAt:          product.CreatedAt.UTC(),
		UpdatedAt:          product.UpdatedAt.UTC(),
	}
	if len(product.SizeChart) > 0 {
		doc.SizeChart = make([]sizeChartRowDocument, 0, len(product.SizeChart))
		for _, row := range product.SizeChart {
			doc.SizeChart = append(doc.SizeChart, sizeChartRowDocument(row))
		}
	}
	return doc
}

func decodeProductDocument(id string, doc productDocument, createTime, updateTime time.Time) domain.Product {
	product := domain.Product{
		ID:                 id,
		Name:               doc.Name,
		Reference:          doc.Reference,
		Color:              doc.Color,
		Category:           domain.ProductCategory(doc.Category),
		Fit:                domain.ProductFit(doc.Fit),
		Material:           doc.Material,
		WeightGSM:          doc.WeightGSM,
		Images:             append([]string(nil), doc.Images...),
		BasePrice:          doc.BasePrice,
		Available:          doc.Available,
		MaxDiscountPercent: doc.MaxDiscountPercent,
		Features:           append([]string(nil), doc.Features...),
		Description:        doc.Description,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	if len(doc.SizeChart) > 0 {
		product.SizeChart = make([]domain.SizeChartRow, 0, len(doc.SizeChart))
		for _, row := range doc.SizeChart {
			product.SizeChart = append(product.SizeChart, domain.SizeChartRow(row))
		}
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = createTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = updateTime
	}
	return product
}
