package handler

import (
	"net/http"

	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/service"
)

type AdminHandler struct {
	usage     *service.UsageService
	authority *service.AuthorityService
	log       *zap.Logger
}

type modeResponse struct {
	Mode          domain.OperationMode `json:"mode"`
	CanDelete     bool                 `json:"can_delete"`
	CanEditStatus bool                 `json:"can_edit_status"`
}

func NewAdminHandler(usage *service.UsageService, authority *service.AuthorityService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		usage:     usage,
		authority: authority,
		log:       log.Named("http"),
	}
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	info, err := h.usage.UsageByTier(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *AdminHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	resp, err := h.modeResponse(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	mode, ok := domain.ParseOperationMode(req.Mode)
	if !ok {
		writeError(w, h.log, r, apperr.Invalid("set mode", "unknown operation mode %q", req.Mode))
		return
	}
	if err := h.authority.SetMode(r.Context(), mode); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	h.log.Info("operation mode changed", zap.String("mode", string(mode)), zap.String("actor", actor(r)))

	resp, err := h.modeResponse(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) modeResponse(r *http.Request) (*modeResponse, error) {
	mode, err := h.authority.Mode(r.Context())
	if err != nil {
		return nil, err
	}
	canDelete, err := h.authority.CanDelete(r.Context())
	if err != nil {
		return nil, err
	}
	canEdit, err := h.authority.CanEditStatus(r.Context())
	if err != nil {
		return nil, err
	}
	return &modeResponse{Mode: mode, CanDelete: canDelete, CanEditStatus: canEdit}, nil
}
