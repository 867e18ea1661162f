package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"assetlibrary/internal/service"
)

type FolderHandler struct {
	folderService *service.FolderService
	log           *zap.Logger
}

type createFolderRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

func NewFolderHandler(folderService *service.FolderService, log *zap.Logger) *FolderHandler {
	return &FolderHandler{
		folderService: folderService,
		log:           log.Named("http"),
	}
}

func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}

	folder, err := h.folderService.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (h *FolderHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.folderService.ListFolders(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (h *FolderHandler) GetFolderContent(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	content, err := h.folderService.GetContent(r.Context(), folderID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.DeleteFolder(r.Context(), folderID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FolderHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req struct {
		NewName string `json:"new_name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.RenameFolder(r.Context(), folderID, req.NewName); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FolderHandler) MoveFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	var req struct {
		NewParentID *int64 `json:"new_parent_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.MoveFolder(r.Context(), folderID, req.NewParentID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FolderHandler) AddFamily(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	familyUUID, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.AddFamily(r.Context(), folderID, familyUUID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FolderHandler) RemoveFamily(w http.ResponseWriter, r *http.Request) {
	folderID, err := int64Param(r, "id")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	familyUUID, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.RemoveFamily(r.Context(), folderID, familyUUID); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FolderHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	familyUUID, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	tags, err := h.folderService.ListTags(r.Context(), familyUUID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *FolderHandler) AllTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.folderService.AllTags(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *FolderHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	familyUUID, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	tag, err := h.folderService.AddTag(r.Context(), familyUUID, chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (h *FolderHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	familyUUID, err := uuidParam(r, "uuid")
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.folderService.RemoveTag(r.Context(), familyUUID, chi.URLParam(r, "name")); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
