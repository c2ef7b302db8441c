package storage

import (
	"context"
	"errors"

	"github.com/printy-garments/api/internal/platform/auth"
)

// ErrPermissionDenied means the caller may not fetch the requested file.
// Handlers map it to a 403.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether identity may download a stored file.
// Clients only see their own design uploads and payment proofs; commercial
// staff and admins see everything.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	switch {
	case allowAnonymous:
		return nil
	case identity == nil:
		return ErrPermissionDenied
	case ownerID != "" && identity.UID == ownerID:
		return nil
	case identity.HasAnyRole(auth.RoleCommercial, auth.RoleAdmin):
		return nil
	}
	return ErrPermissionDenied
}

// AuthorizeDownloadFromContext is AuthorizeDownload with the identity taken
// from the request context.
func AuthorizeDownloadFromContext(ctx context.Context, ownerID string, allowAnonymous bool) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok && !allowAnonymous {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeDownload(identity, ownerID, allowAnonymous); err != nil {
		return nil, err
	}
	return identity, nil
}
