package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ohmvision/camconnect/internal/detect"
	"github.com/ohmvision/camconnect/internal/monitor"
	"github.com/ohmvision/camconnect/internal/probe"
)

type CameraHandler struct {
	Monitor *monitor.Service
	Engine  *detect.Engine
}

func NewCameraHandler(svc *monitor.Service, engine *detect.Engine) *CameraHandler {
	return &CameraHandler{Monitor: svc, Engine: engine}
}

type registerRequest struct {
	CameraID     uuid.UUID `json:"camera_id"`
	Type         string    `json:"connection_type"`
	PrimaryURL   string    `json:"primary_stream_url"`
	SecondaryURL string    `json:"secondary_stream_url"`
	SnapshotURL  string    `json:"snapshot_url"`
	Host         string    `json:"ip"`
	Port         int       `json:"port"`
	Channel      int       `json:"channel"`
	Manufacturer string    `json:"manufacturer"`
	Username     string    `json:"username"`
	Password     string    `json:"password"`
	TimeoutMS    int       `json:"probe_timeout_ms"`
	VerifyTLS    bool      `json:"verify_tls"`
}

// Register puts a camera under monitoring. A declared connection type and
// stream URL are used as-is; otherwise the device is auto-detected first
// and the recommended method becomes the resolved connection.
func (h *CameraHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var conn monitor.ResolvedConnection
	if req.Type != "" && req.PrimaryURL != "" {
		conn = monitor.ResolvedConnection{
			CameraID:     req.CameraID,
			Type:         probe.ConnectionType(req.Type),
			PrimaryURL:   req.PrimaryURL,
			SecondaryURL: req.SecondaryURL,
			SnapshotURL:  req.SnapshotURL,
			Manufacturer: req.Manufacturer,
			Username:     req.Username,
			Password:     req.Password,
		}
	} else {
		target := detect.DeviceTarget{
			Host:         req.Host,
			Port:         req.Port,
			Username:     req.Username,
			Password:     req.Password,
			Manufacturer: req.Manufacturer,
			Channel:      req.Channel,
		}
		report, err := h.Engine.AutoDetect(r.Context(), target)
		if err != nil {
			var cfgErr *detect.ConfigError
			if errors.As(err, &cfgErr) {
				writeError(w, http.StatusUnprocessableEntity, cfgErr.Error())
				return
			}
			http.Error(w, "detection failed", http.StatusInternalServerError)
			return
		}
		conn, err = h.Engine.Resolve(req.CameraID, target, report)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}
	conn.Config = monitor.ConnConfig{
		ProbeTimeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		VerifyTLS:    req.VerifyTLS,
	}

	id, err := h.Monitor.Register(r.Context(), conn)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	snap, err := h.Monitor.Store().Get(id)
	if err != nil {
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *CameraHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cameras": h.Monitor.Store().All()})
}

func (h *CameraHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	snap, err := h.Monitor.Store().Get(id)
	if err != nil {
		http.Error(w, "camera not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *CameraHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := cameraID(w, r)
	if !ok {
		return
	}
	if err := h.Monitor.Unregister(r.Context(), id); err != nil {
		if errors.Is(err, monitor.ErrNotManaged) {
			http.Error(w, "camera not found", http.StatusNotFound)
			return
		}
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cameraID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
