package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"assetlibrary/internal/hostbridge"
)

type BridgeHandler struct {
	session *hostbridge.Session
	log     *zap.Logger
}

func NewBridgeHandler(session *hostbridge.Session, log *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		session: session,
		log:     log.Named("http"),
	}
}

type commandRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Send forwards one command to the host application and waits for its answer.
func (h *BridgeHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, r, err)
		return
	}
	if req.Type == "" {
		badRequest(w, "command type is required")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	resp, err := h.session.Send(r.Context(), req.Type, payload)
	if err != nil {
		if resp != nil && errors.Is(err, hostbridge.ErrHostFailed) {
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BridgeHandler) Pending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"pending": h.session.Pending()})
}
