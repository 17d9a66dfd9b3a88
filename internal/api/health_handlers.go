package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/data"
	"github.com/ohmvision/camconnect/internal/monitor"
)

// HistoryReader is satisfied by data.ConnectionModel; nil means no DB.
type HistoryReader interface {
	GetHistory(ctx context.Context, cameraID uuid.UUID, limit, offset int) ([]*data.HealthSample, error)
}

type HealthHandler struct {
	Monitor *monitor.Service
	History HistoryReader
}

func NewHealthHandler(svc *monitor.Service, history HistoryReader) *HealthHandler {
	return &HealthHandler{Monitor: svc, History: history}
}

// GetCameraHealth returns one camera's current health record.
func (h *HealthHandler) GetCameraHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	snap, err := h.Monitor.Store().Get(id)
	if err != nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"health":       snap.Health,
		"reconnection": snap.Reconnection,
	})
}

// ListHealth returns the health record of every managed camera.
func (h *HealthHandler) ListHealth(w http.ResponseWriter, r *http.Request) {
	snaps := h.Monitor.Store().All()
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, map[string]any{
			"camera_id":    snap.Connection.CameraID,
			"health":       snap.Health,
			"reconnection": snap.Reconnection,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": out})
}

// GetReconnection returns one camera's reconnection state, null when
// no recovery cycle is active.
func (h *HealthHandler) GetReconnection(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	snap, err := h.Monitor.Store().Get(id)
	if err != nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reconnection": snap.Reconnection})
}

// CheckNow runs an immediate out-of-band health probe.
func (h *HealthHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	rec, err := h.Monitor.CheckNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, monitor.ErrNotManaged) {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Reconnect cancels any pending backoff and retries immediately.
func (h *HealthHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	snap, err := h.Monitor.Reconnect(r.Context(), id)
	if err != nil {
		if errors.Is(err, monitor.ErrNotManaged) {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Summary aggregates every camera's health.
func (h *HealthHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Monitor.GlobalStatus())
}

// GetHistory returns persisted health samples for one camera.
func (h *HealthHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		http.Error(w, "history not available", http.StatusNotImplemented)
		return
	}

	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	history, err := h.History.GetHistory(r.Context(), id, limit, offset)
	if err != nil {
		http.Error(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}
