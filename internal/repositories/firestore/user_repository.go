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

const usersCollection = "users"

// UserRepository persists account documents keyed by the Firebase UID.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{base: base}, nil
}

// Insert stores a new account document. The UID must be unused.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(user.UID)
	if uid == "" {
		return errors.New("user repository: uid is required")
	}
	docRef, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeUserDocument(user)); err != nil {
		return pfirestore.WrapError("users.insert", err)
	}
	return nil
}

// Update replaces the persisted account state with the provided snapshot.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(user.UID)
	if uid == "" {
		return errors.New("user repository: uid is required")
	}
	if _, err := r.base.Set(ctx, uid, encodeUserDocument(user)); err != nil {
		return err
	}
	return nil
}

// FindByID loads the account document by UID.
func (r *UserRepository) FindByID(ctx context.Context, uid string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.User{}, errors.New("user repository: uid is required")
	}
	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUserDocument(doc.ID, doc.Data, doc.CreateTime), nil
}

// List returns accounts matching the filter, ordered by creation time.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) (domain.CursorPage[domain.User], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.User]{}, errors.New("user repository not initialised")
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
			return domain.CursorPage[domain.User]{}, fmt.Errorf("user repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Role != nil {
			q = q.Where("role", "==", string(*filter.Role))
		}
		if assigned := strings.TrimSpace(filter.AssignedTo); assigned != "" {
			q = q.Where("assignedTo", "==", assigned)
		}
		if filter.OnlyActive {
			q = q.Where("active", "==", true)
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
		return domain.CursorPage[domain.User]{}, err
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

	items := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeUserDocument(doc.ID, doc.Data, doc.CreateTime))
	}
	return domain.CursorPage[domain.User]{Items: items, NextPageToken: nextToken}, nil
}

// TouchLastLogin stamps the account's last login time.
func (r *UserRepository) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return errors.New("user repository: uid is required")
	}
	if _, err := r.base.Update(ctx, uid, []firestore.Update{
		{Path: "lastLogin", Value: at.UTC()},
	}); err != nil {
		return err
	}
	return nil
}

type userDocument struct {
	Email       string     `firestore:"email"`
	Role        string     `firestore:"role"`
	CompanyName string     `firestore:"companyName"`
	NIT         string     `firestore:"nit"`
	ContactName string     `firestore:"contactName"`
	WhatsApp    string     `firestore:"whatsapp"`
	City        string     `firestore:"city"`
	AssignedTo  string     `firestore:"assignedTo,omitempty"`
	Active      bool       `firestore:"active"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	LastLogin   *time.Time `firestore:"lastLogin,omitempty"`
}

func encodeUserDocument(user domain.User) userDocument {
	return userDocument{
		Email:       strings.ToLower(strings.TrimSpace(user.Email)),
		Role:        string(user.Role),
		CompanyName: strings.TrimSpace(user.CompanyName),
		NIT:         strings.TrimSpace(user.NIT),
		ContactName: strings.TrimSpace(user.ContactName),
		WhatsApp:    strings.TrimSpace(user.WhatsApp),
		City:        strings.TrimSpace(user.City),
		AssignedTo:  strings.TrimSpace(user.AssignedTo),
		Active:      user.Active,
		CreatedAt:   user.CreatedAt.UTC(),
		LastLogin:   user.LastLogin,
	}
}

func decodeUserDocument(uid string, doc userDocument, createTime time.Time) domain.User {
	user := domain.User{
		UID:         uid,
		Email:       doc.Email,
		Role:        domain.Role(doc.Role),
		CompanyName: doc.CompanyName,
		NIT:         doc.NIT,
		ContactName: doc.ContactName,
		WhatsApp:    doc.WhatsApp,
		City:        doc.City,
		AssignedTo:  doc.AssignedTo,
		Active:      doc.Active,
		CreatedAt:   doc.CreatedAt,
		LastLogin:   doc.LastLogin,
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = createTime
	}
	return user
}
