package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/service"
)

const maxPublishMemory = 32 << 20

type VersionHandler struct {
	versions  *service.VersionService
	cold      *service.ColdStorageService
	authority *service.AuthorityService
	log       *zap.Logger
}

func NewVersionHandler(
	versions *service.VersionService,
	cold *service.ColdStorageService,
	authority *service.AuthorityService,
	log *zap.Logger,
) *VersionHandler {
	return &VersionHandler{
		versions:  versions,
		cold:      cold,
		authority: authority,
		log:       log.Named("http"),
	}
}

// Publish accepts a multipart form with payload, optional thumbnail and the
// fields type, variant, ext, status, representation, description and stats.
func (h *VersionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPublishMemory); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	payload, _, err := r.FormFile("payload")
	if err != nil {
		badRequest(w, "payload file is required")
		return
	}
	defer payload.Close()

	req := domain.PublishRequest{
		FamilyName:     chi.URLParam(r, "name"),
		AssetType:      r.FormValue("type"),
		Variant:        r.FormValue("variant"),
		Extension:      r.FormValue("ext"),
		Description:    r.FormValue("description"),
		Status:         domain.Status(r.FormValue("status")),
		Representation: domain.Representation(r.FormValue("representation")),
		Payload:        payload,
		Actor:          actor(r),
	}
	if raw := r.FormValue("stats"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Stats); err != nil {
			badRequest(w, "stats must be a JSON object")
			return
		}
	}

	var thumbnail multipart.File
	if thumbnail, _, err = r.FormFile("thumbnail"); err == nil {
		defer thumbnail.Close()
		req.Thumbnail = thumbnail
	}

	v, err := h.versions.Publish(r.Context(), req)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *VersionHandler) ListFamilies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.FamilyFilter{
		AssetType:      q.Get("type"),
		Tag:            q.Get("tag"),
		IncludeRetired: q.Get("include_retired") == "true",
	}
	if raw := q.Get("folder"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid folder id")
			return
		}
		filter.FolderID = &id
	}

	families, err := h.versions.ListFamilies(r.Context(), filter)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, families)
}

type familyResponse struct {
	domain.AssetFamily
	Variants []string `json:"variants"`
}

func (h *VersionHandler) GetFamily(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	family, err := h.versions.GetFamily(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	variants, err := h.versions.Variants(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, familyResponse{AssetFamily: *family, Variants: variants})
}

func (h *VersionHandler) UpdateDescription(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req struct {
		Description string `json:"description"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.versions.UpdateDescription(r.Context(), id, req.Description); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	q := r.URL.Query()
	versions, err := h.versions.ListVersions(r.Context(), id, q.Get("variant"), q.Get("include_retired") == "true")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *VersionHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	v, err := h.versions.GetLatest(r.Context(), id, r.URL.Query().Get("variant"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	v, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	v, err := h.cold.Archive(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) Promote(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	v, err := h.cold.Promote(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) RestoreAsCurrent(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	v, err := h.versions.RestoreAsCurrent(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *VersionHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.versions.SetFavorite(r.Context(), id, req.Favorite); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus updates status and, when given, representation. Only allowed
// while the operation mode lets the library edit review state.
func (h *VersionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req struct {
		Status         domain.Status         `json:"status"`
		Representation domain.Representation `json:"representation,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}

	allowed, err := h.authority.CanEditStatus(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if !allowed {
		writeError(w, h.log, r, apperr.Forbidden("set status", "status is managed by the pipeline in this operation mode"))
		return
	}

	if err := h.versions.SetStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if req.Representation != "" {
		if err := h.versions.SetRepresentation(r.Context(), id, req.Representation); err != nil {
			writeError(w, h.log, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VersionHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	path, err := h.versions.ThumbnailFile(r.Context(), id)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}
