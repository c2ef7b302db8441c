package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	defaultRoleClaim     = "role"
	defaultLocaleClaim   = "locale"
	defaultEmailClaim    = "email"
	defaultFallbackRole  = RoleClient
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenExpired signals that the provided Firebase ID token has expired.
var ErrTokenExpired = errors.New("auth: firebase id token expired")

// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
var ErrTokenInvalid = errors.New("auth: firebase id token invalid")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// UserGetter retrieves Firebase user information.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns Firebase ID token verification into chi middleware.
// Clients and staff both authenticate this way; the role custom claim
// decides which surface they may reach.
type Authenticator struct {
	verifier TokenVerifier
	users    UserGetter

	roleClaim, localeClaim, emailClaim string

	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// NewAuthenticator builds an Authenticator around the verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, fallbackRole: defaultFallbackRole, timeout: defaultVerifyTimeout}
	a.roleClaim, a.localeClaim, a.emailClaim = defaultRoleClaim, defaultLocaleClaim, defaultEmailClaim
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// WithUserGetter lets handlers lazily load the full Firebase user record.
func WithUserGetter(getter UserGetter) Option {
	return func(a *Authenticator) { a.users = getter }
}

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) { setClaim(&a.roleClaim, claim) }
}

// WithLocaleClaim overrides the claim used to populate Identity.Locale.
func WithLocaleClaim(claim string) Option {
	return func(a *Authenticator) { setClaim(&a.localeClaim, claim) }
}

// WithEmailClaim overrides the claim used to populate Identity.Email.
func WithEmailClaim(claim string) Option {
	return func(a *Authenticator) { setClaim(&a.emailClaim, claim) }
}

// WithFallbackRole sets the default role when no custom claim is present.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		role = canonicalRole(role)
		if role == "" {
			return
		}
		a.fallbackRole = role
	}
}

// WithVerificationTimeout sets the timeout used when verifying tokens and loading users.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d <= 0 {
			return
		}
		a.timeout = d
	}
}

func setClaim(dst *string, claim string) {
	if claim = strings.TrimSpace(claim); claim != "" {
		*dst = claim
	}
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given,
// rejects identities that hold none of them. Client routes pass no roles,
// staff and admin routes restrict accordingly.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := roleSet(allowedRoles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, ok := extractBearerToken(r.Header.Get("Authorization"))
			switch {
			case !ok:
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			case a == nil || a.verifier == nil:
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := a.verifyContext(r.Context())
			defer cancel()

			token, err := a.verifier.VerifyIDToken(ctx, rawToken)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			identity := a.identityFromToken(token)
			switch {
			case len(identity.Roles) == 0:
				respondAuthError(w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			case len(allowed) > 0 && !holdsAnyRole(identity.Roles, allowed):
				respondAuthError(w, http.StatusUnauthorized, "insufficient_role", "identity does not have required role")
				return
			}

			a.attachUserLoader(identity)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:    token.UID,
		Email:  stringClaim(token.Claims, a.emailClaim),
		Locale: stringClaim(token.Claims, a.localeClaim),
		Roles:  rolesFromClaims(token.Claims, a.roleClaim),
		token:  token,
	}

	if identity.Email == "" {
		// The custom claim may be overridden; fall back to the standard one.
		identity.Email = stringClaim(token.Claims, defaultEmailClaim)
	}
	if identity.Locale == "" {
		identity.Locale = stringClaim(token.Claims, defaultLocaleClaim)
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity
}

// attachUserLoader wires lazy loading of the full Firebase user record when
// a UserGetter is configured.
func (a *Authenticator) attachUserLoader(identity *Identity) {
	if a.users == nil {
		return
	}
	identity.userLoader = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
		if uid == "" {
			uid = identity.UID
		}
		ctx, cancel := a.verifyContext(ctx)
		defer cancel()
		return a.users.GetUser(ctx, uid)
	}
}

// verifyContext bounds verification calls by the configured timeout. The
// returned cancel func is always safe to defer.
func (a *Authenticator) verifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a == nil || a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

func roleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = canonicalRole(role); role != "" {
			set[role] = struct{}{}
		}
	}
	return set
}

func holdsAnyRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[canonicalRole(role)]; ok {
			return true
		}
	}
	return false
}

// rolesFromClaims accepts the shapes the admin tooling has written over
// time: a single string, a list, or a map of role to bool.
func rolesFromClaims(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if role := canonicalRole(v); role != "" {
			return []string{role}
		}
	case []any:
		var raw []string
		for _, item := range v {
			if str, ok := item.(string); ok {
				raw = append(raw, str)
			}
		}
		return uniqueRoles(raw)
	case []string:
		return uniqueRoles(v)
	case map[string]any:
		var out []string
		for name, value := range v {
			if granted, ok := value.(bool); !ok || !granted {
				continue
			}
			if role := canonicalRole(name); role != "" {
				out = append(out, role)
			}
		}
		return out
	}
	return nil
}

func uniqueRoles(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		role := canonicalRole(value)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	if str, ok := claims[key].(string); ok {
		return strings.TrimSpace(str)
	}
	return ""
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
