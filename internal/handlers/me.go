package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/platform/httpx"
	"github.com/printy-garments/api/internal/services"
)

// MeHandlers exposes every authenticated client-facing endpoint: the caller's
// profile, the working quote draft, submitted quotations, orders, and
// uploaded designs.
type MeHandlers struct {
	authn        *auth.Authenticator
	users        services.UserService
	drafts       services.QuoteDraftService
	quotations   services.QuotationService
	orders       services.OrderService
	designs      services.DesignService
	proofLimiter rateLimiter
}

// MeHandlersDeps bundles the services MeHandlers depends on.
type MeHandlersDeps struct {
	Authenticator *auth.Authenticator
	Users         services.UserService
	Drafts        services.QuoteDraftService
	Quotations    services.QuotationService
	Orders        services.OrderService
	Designs       services.DesignService

	// ProofUploadsPerMinute caps payment proof uploads per client.
	ProofUploadsPerMinute int
}

func NewMeHandlers(deps MeHandlersDeps) *MeHandlers {
	proofLimit := deps.ProofUploadsPerMinute
	if proofLimit <= 0 {
		proofLimit = 5
	}
	return &MeHandlers{
		authn:        deps.Authenticator,
		users:        deps.Users,
		drafts:       deps.Drafts,
		quotations:   deps.Quotations,
		orders:       deps.Orders,
		designs:      deps.Designs,
		proofLimiter: newFixedWindowLimiter(proofLimit, time.Minute, nil),
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/profile", h.getProfile)
	r.Put("/profile", h.updateProfile)
	r.Route("/quote-draft", h.quoteDraftRoutes)
	r.Route("/quotations", h.quotationRoutes)
	r.Route("/orders", h.orderRoutes)
	r.Route("/designs", h.designRoutes)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(profile))
}

type updateProfilePayload struct {
	CompanyName string `json:"company_name"`
	NIT         string `json:"nit"`
	ContactName string `json:"contact_name"`
	WhatsApp    string `json:"whatsapp"`
	City        string `json:"city"`
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload updateProfilePayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	updated, err := h.users.UpdateProfile(ctx, services.UpdateProfileCommand{
		UID:         identity.UID,
		CompanyName: payload.CompanyName,
		NIT:         payload.NIT,
		ContactName: payload.ContactName,
		WhatsApp:    payload.WhatsApp,
		City:        payload.City,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserPayload(updated))
}
