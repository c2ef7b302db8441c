package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the Firebase custom claim. Clients build quotes,
// commercial staff run the quotation and order workflows, admins also manage
// the catalog and users.
const (
	RoleClient     = "client"
	RoleCommercial = "commercial"
	RoleAdmin      = "admin"
)

// ErrUserLoaderUnavailable is returned by User when the identity was built
// without a loader, as happens in unit tests.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader resolves a Firebase UID to its full user record. The
// authenticator wires this to the Firebase Admin SDK.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the authenticated principal extracted from a Firebase ID
// token, available to every handler behind RequireFirebaseAuth.
type Identity struct {
	UID, Email, Locale string

	Roles []string

	token      *firebaseauth.Token
	userLoader UserLoader

	once       sync.Once
	userRecord *firebaseauth.UserRecord
	userErr    error
}

// Token returns the decoded Firebase ID token behind this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries the given role. Matching is
// case-insensitive because the admin tooling has historically written claims
// in mixed case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	if role = canonicalRole(role); role == "" {
		return false
	}
	return slices.ContainsFunc(i.Roles, func(held string) bool {
		return strings.EqualFold(held, role)
	})
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// User fetches the full Firebase profile on first call and caches it for the
// rest of the request. Handlers that only need the UID or roles never pay for
// the lookup.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.userLoader == nil {
		return nil, ErrUserLoaderUnavailable
	}

	i.once.Do(func() {
		i.userRecord, i.userErr = i.userLoader(ctx, i.UID)
	})

	return i.userRecord, i.userErr
}

type contextKey string

const identityContextKey contextKey = "github.com/printy-garments/api/internal/platform/auth/identity"

// WithIdentity attaches the identity to the request context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity placed in the context by the
// authentication middleware, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
