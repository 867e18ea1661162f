package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"assetlibrary/internal/events"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

type EventsHandler struct {
	bus       *events.Bus
	heartbeat time.Duration
	log       *zap.Logger
}

func NewEventsHandler(bus *events.Bus, log *zap.Logger) *EventsHandler {
	return &EventsHandler{
		bus:       bus,
		heartbeat: heartbeatInterval,
		log:       log.Named("sse"),
	}
}

// Stream writes every bus event to the client as a server-sent event until
// the request context ends.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(eventBuffer)
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("client disconnected", zap.Error(ctx.Err()))
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
