package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/printy-garments/api/internal/domain"
	"github.com/printy-garments/api/internal/services"
)

func (h *MeHandlers) designRoutes(r chi.Router) {
	r.Get("/", h.listDesigns)
	r.Post("/", h.registerDesign)
	r.Post("/upload-intent", h.issueDesignUploadIntent)
	r.Delete("/{designID}", h.deleteDesign)
}

func (h *MeHandlers) listDesigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cmd := services.ListDesignsCommand{
		UserID:     identity.UID,
		Pagination: parsePagination(r),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("file_type")); raw != "" {
		fileType := domain.DesignFileType(raw)
		cmd.FileType = &fileType
	}

	page, err := h.designs.ListDesigns(ctx, cmd)
	if err != nil {
		writeDesignError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildListPayload(page, buildDesignPayload))
}

type uploadIntentPayload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type uploadIntentResponse struct {
	DesignID  string `json:"design_id"`
	UploadURL string `json:"upload_url"`
	ObjectURL string `json:"object_url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *MeHandlers) issueDesignUploadIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload uploadIntentPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	intent, err := h.designs.IssueUploadIntent(ctx, services.DesignUploadIntentCommand{
		UserID:      identity.UID,
		FileName:    payload.FileName,
		ContentType: payload.ContentType,
		SizeBytes:   payload.SizeBytes,
	})
	if err != nil {
		writeDesignError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, uploadIntentResponse{
		DesignID:  intent.DesignID,
		UploadURL: intent.UploadURL,
		ObjectURL: intent.ObjectURL,
		ExpiresAt: formatTime(intent.ExpiresAt),
	})
}

type registerDesignPayload struct {
	DesignID         string `json:"design_id"`
	Name             string `json:"name"`
	OriginalFileName string `json:"original_file_name"`
	ContentType      string `json:"content_type"`
	SizeBytes        int64  `json:"size_bytes"`
	IsPublic         bool   `json:"is_public"`
}

func (h *MeHandlers) registerDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var payload registerDesignPayload
	if !decodeJSONBody(ctx, w, r, &payload) {
		return
	}

	design, err := h.designs.RegisterDesign(ctx, services.RegisterDesignCommand{
		DesignID:         payload.DesignID,
		UserID:           identity.UID,
		Name:             payload.Name,
		OriginalFileName: payload.OriginalFileName,
		ContentType:      payload.ContentType,
		SizeBytes:        payload.SizeBytes,
		IsPublic:         payload.IsPublic,
	})
	if err != nil {
		writeDesignError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildDesignPayload(design))
}

func (h *MeHandlers) deleteDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	err := h.designs.DeleteDesign(ctx, services.DeleteDesignCommand{
		DesignID: chi.URLParam(r, "designID"),
		Actor:    actorFromIdentity(identity),
	})
	if err != nil {
		writeDesignError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
