package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/platform/auth"
	"github.com/printy-garments/api/internal/services"
)

// AdminHandlers serves the staff surface: quotation review, the order
// Kanban, catalog management, and account administration.
type AdminHandlers struct {
	authn      *auth.Authenticator
	quotations services.QuotationService
	orders     services.OrderService
	catalog    services.CatalogService
	users      services.UserService
}

// AdminHandlersDeps bundles the services AdminHandlers depends on.
type AdminHandlersDeps struct {
	Authenticator *auth.Authenticator
	Quotations    services.QuotationService
	Orders        services.OrderService
	Catalog       services.CatalogService
	Users         services.UserService
}

func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:      deps.Authenticator,
		quotations: deps.Quotations,
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		users:      deps.Users,
	}
}

// Routes wires the /admin endpoints onto the provided router. Quotation and
// order review is open to both staff roles; catalog and account management
// is admin only.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(staff chi.Router) {
		if h.authn != nil {
			staff.Use(h.authn.RequireFirebaseAuth(auth.RoleCommercial, auth.RoleAdmin))
		}
		staff.Get("/quotations", h.listQuotations)
		staff.Post("/quotations/{quotationID}/approve", h.approveQuotation)
		staff.Post("/quotations/{quotationID}/reject", h.rejectQuotation)
		staff.Get("/orders", h.listOrders)
		staff.Get("/orders/{orderID}", h.getOrder)
		staff.Patch("/orders/{orderID}/status", h.transitionOrderStatus)
		staff.Post("/orders/{orderID}/verify-payment", h.verifyPayment)
		staff.Put("/orders/{orderID}/delivery", h.updateDeliverySchedule)
		staff.Post("/orders/{orderID}/delivery/{windowIndex}/delivered", h.markWindowDelivered)
	})

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		admin.Get("/products", h.listProducts)
		admin.Post("/products", h.createProduct)
		admin.Get("/products/{productID}", h.getProduct)
		admin.Put("/products/{productID}", h.updateProduct)
		admin.Delete("/products/{productID}", h.archiveProduct)
		admin.Get("/personalization/{technique}", h.getPersonalizationConfig)
		admin.Put("/personalization/{technique}", h.upsertPersonalizationConfig)
		admin.Get("/users", h.listUsers)
		admin.Post("/users", h.createUser)
		admin.Get("/users/{uid}", h.getUser)
		admin.Post("/users/{uid}/assign-commercial", h.assignCommercial)
		admin.Post("/users/{uid}/active", h.setUserActive)
	})
}

func (h *AdminHandlers) listQuotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := services.QuotationListQuery{
		Actor:         actorFromIdentity(identity),
		Status:        parseQuotationStatuses(r),
		CreatedAfter:  parseTimeParam(r, "created_after"),
		CreatedBefore: parseTimeParam(r, "created_before"),
		Pagination:    parsePagination(r),
	}

	page, err := h.quotations.ListQuotations(ctx, query)
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildQuotationPayload))
}

type approveQuotationResponse struct {
	Quotation quotationPayload `json:"quotation"`
	Order     orderPayload     `json:"order"`
}

func (h *AdminHandlers) approveQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	result, err := h.quotations.Approve(ctx, services.ApproveQuotationCommand{
		QuotationID: chi.URLParam(r, "quotationID"),
		Actor:       actorFromIdentity(identity),
	})
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, approveQuotationResponse{
		Quotation: buildQuotationPayload(result.Quotation),
		Order:     buildOrderPayload(result.Order),
	})
}

type rejectQuotationPayload struct {
	Reason string `json:"reason"`
}

func (h *AdminHandlers) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload rejectQuotationPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	quotation, err := h.quotations.Reject(ctx, services.RejectQuotationCommand{
		QuotationID: chi.URLParam(r, "quotationID"),
		Actor:       actorFromIdentity(identity),
		Reason:      payload.Reason,
	})
	if err != nil {
		writeQuotationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildQuotationPayload(quotation))
}
