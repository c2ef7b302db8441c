package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/platform/pagination"
	"github.com/printy-garments/api/internal/services"
)

const maxJSONBodySize = 256 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals the request body into dst, writing the
// appropriate error response itself. Returns false when the caller should
// stop processing.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

// requireIdentity extracts the authenticated identity, writing a 401 response
// when it is missing.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// actorFromIdentity maps the token roles onto the single-role actor model
// used by services. Admin wins over commercial when both claims are present.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	actor := services.Actor{UID: identity.UID, Role: domain.RoleClient}
	switch {
	case identity.HasRole(auth.RoleAdmin):
		actor.Role = domain.RoleAdmin
	case identity.HasRole(auth.RoleCommercial):
		actor.Role = domain.RoleCommercial
	}
	return actor
}

// parsePagination extracts page_size and page_token. Malformed values fall
// back to defaults rather than failing the listing.
func parsePagination(r *http.Request) domain.Pagination {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: pagination.DefaultPageSize,
		MaxPageSize:     pagination.DefaultMaxPageSize,
	})
	if err != nil {
		return domain.Pagination{PageSize: pagination.DefaultPageSize}
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}
}

func parseTimeParam(r *http.Request, name string) *time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// Error mapping -------------------------------------------------------------

func writeQuotationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrQuotationEmptyDraft):
		httpx.WriteError(ctx, w, httpx.NewError("empty_draft", "quote draft has no units", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrQuotationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrQuotationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("quotation_not_found", "quotation not found", http.StatusNotFound))
	case errors.Is(err, services.ErrQuotationForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this quotation", http.StatusForbidden))
	case errors.Is(err, services.ErrQuotationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrQuotationUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "quotation service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProofTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "payment proof exceeds the size limit", http.StatusRequestEntityTooLarge))
	case errors.Is(err, services.ErrProofUnsupportedType):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "payment proof must be an image or PDF", http.StatusUnsupportedMediaType))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeDraftError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDraftProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDraftLocationUnknown), errors.Is(err, services.ErrPrintSizeUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDraftPrintTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("print_too_large", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDraftInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConfigNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("config_not_found", "personalization config not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserConflict):
		httpx.WriteError(ctx, w, httpx.NewError("user_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrUserInvalidAssignment):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_assignment", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeDesignError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrDesignNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("design_not_found", "design not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDesignForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this design", http.StatusForbidden))
	case errors.Is(err, services.ErrDesignInUse):
		httpx.WriteError(ctx, w, httpx.NewError("design_in_use", "design is referenced by quotations or orders", http.StatusConflict))
	case errors.Is(err, services.ErrDesignTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "design exceeds the size limit", http.StatusRequestEntityTooLarge))
	case errors.Is(err, services.ErrDesignUnsupportedType):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "design must be a PNG, JPEG, WebP, or PDF", http.StatusUnsupportedMediaType))
	case errors.Is(err, services.ErrDesignInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
