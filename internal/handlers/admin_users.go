package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := services.UserListQuery{
		AssignedTo: strings.TrimSpace(r.URL.Query().Get("assigned_to")),
		Pagination: parsePagination(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		role := domain.Role(raw)
		query.Role = &role
	}
	if r.URL.Query().Get("only_active") == "true" {
		query.OnlyActive = true
	}

	page, err := h.users.ListUsers(ctx, query)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildUserPayload))
}

func (h *AdminHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.users.GetProfile(ctx, chi.URLParam(r, "uid"))
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type createUserPayload struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name"`
	NIT         string `json:"nit"`
	ContactName string `json:"contact_name"`
	WhatsApp    string `json:"whatsapp"`
	City        string `json:"city"`
	AssignedTo  string `json:"assigned_to"`
}

func (h *AdminHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload createUserPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	user, err := h.users.CreateUser(ctx, services.CreateUserCommand{
		UID:         payload.UID,
		Email:       payload.Email,
		Role:        domain.Role(payload.Role),
		CompanyName: payload.CompanyName,
		NIT:         payload.NIT,
		ContactName: payload.ContactName,
		WhatsApp:    payload.WhatsApp,
		City:        payload.City,
		AssignedTo:  payload.AssignedTo,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildUserPayload(user))
}

type assignCommercialPayload struct {
	CommercialUID string `json:"commercial_uid"`
}

func (h *AdminHandlers) assignCommercial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload assignCommercialPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	user, err := h.users.AssignCommercial(ctx, services.AssignCommercialCommand{
		ClientUID:     chi.URLParam(r, "uid"),
		CommercialUID: payload.CommercialUID,
		ActorID:       identity.UID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

type setUserActivePayload struct {
	Active bool `json:"active"`
}

func (h *AdminHandlers) setUserActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload setUserActivePayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	user, err := h.users.SetActive(ctx, services.SetUserActiveCommand{
		UID:     chi.URLParam(r, "uid"),
		Active:  payload.Active,
		ActorID: identity.UID,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}
