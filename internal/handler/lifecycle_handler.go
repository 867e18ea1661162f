package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"assetlibrary/internal/apperr"
	"assetlibrary/internal/domain"
	"assetlibrary/internal/service"
)

type LifecycleHandler struct {
	retire     *service.RetireService
	refs       *service.ReferenceService
	reconciler *service.Reconciler
	mirror     *service.MirrorService
	log        *zap.Logger
}

// NewLifecycleHandler builds the handler; mirror may be nil when no bucket
// is configured.
func NewLifecycleHandler(
	retire *service.RetireService,
	refs *service.ReferenceService,
	reconciler *service.Reconciler,
	mirror *service.MirrorService,
	log *zap.Logger,
) *LifecycleHandler {
	return &LifecycleHandler{
		retire:     retire,
		refs:       refs,
		reconciler: reconciler,
		mirror:     mirror,
		log:        log.Named("http"),
	}
}

func scopeFrom(r *http.Request) (domain.Scope, error) {
	id, err := uuidParam(r, "uuid")
	if err != nil {
		return domain.Scope{}, err
	}
	return domain.Scope{FamilyUUID: id, Variant: r.URL.Query().Get("variant")}, nil
}

func (h *LifecycleHandler) Retire(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.retire.Retire(r.Context(), scope, actor(r)); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) Restore(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.retire.Restore(r.Context(), scope, actor(r)); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) Purge(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.retire.Purge(r.Context(), scope, actor(r)); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) Sync(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFrom(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if err := h.refs.Sync(r.Context(), scope); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LifecycleHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	records, err := h.retire.History(r.Context(), limit)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Reconcile runs one pass. Integrity violations answer 500 with the report
// so the operator sees the affected scopes.
func (h *LifecycleHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context())
	if err != nil {
		if report != nil && apperr.Is(err, apperr.KindIntegrity) {
			h.log.Error("reconciliation found invariant violations", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, report)
			return
		}
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *LifecycleHandler) Mirror(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeError(w, h.log, r, apperr.Invalid("mirror", "no offsite bucket is configured"))
		return
	}
	report, err := h.mirror.MirrorArchive(r.Context())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
