package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ohmvision/camconnect/internal/detect"
	"github.com/ohmvision/camconnect/internal/probe"
	"github.com/ohmvision/camconnect/internal/profiles"
)

type DetectHandler struct {
	Engine   *detect.Engine
	Profiles *profiles.Registry
}

func NewDetectHandler(engine *detect.Engine, reg *profiles.Registry) *DetectHandler {
	return &DetectHandler{Engine: engine, Profiles: reg}
}

// detectTarget echoes a probed device without its credentials.
type detectTarget struct {
	Host         string `json:"ip"`
	Port         int    `json:"port,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Channel      int    `json:"channel,omitempty"`
}

func newDetectTarget(t detect.DeviceTarget) detectTarget {
	return detectTarget{Host: t.Host, Port: t.Port, Manufacturer: t.Manufacturer, Channel: t.Channel}
}

type detectResponse struct {
	Success           bool                 `json:"success"`
	RecommendedMethod probe.ConnectionType `json:"recommended_method,omitempty"`
	RecommendedURL    string               `json:"recommended_url,omitempty"`
	AllResults        []probe.Result       `json:"all_results"`
}

func newDetectResponse(report *detect.Report) detectResponse {
	resp := detectResponse{AllResults: report.All}
	if report.Recommended != nil {
		resp.Success = true
		resp.RecommendedMethod = report.Recommended.Type
		resp.RecommendedURL = report.Recommended.URL
	}
	return resp
}

// Detect runs auto-detection for one device and returns the ranked report.
func (h *DetectHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var target detect.DeviceTarget
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
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

	writeJSON(w, http.StatusOK, newDetectResponse(report))
}

// BatchTest probes many devices concurrently.
func (h *DetectHandler) BatchTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Targets []detect.DeviceTarget `json:"targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "targets list is empty")
		return
	}

	type batchEntry struct {
		Target detectTarget   `json:"camera"`
		Report detectResponse `json:"report"`
		Err    string         `json:"error,omitempty"`
	}
	results := h.Engine.BatchTest(r.Context(), req.Targets)
	out := make([]batchEntry, len(results))
	for i, res := range results {
		out[i] = batchEntry{Target: newDetectTarget(res.Target), Err: res.Err}
		if res.Report != nil {
			out[i].Report = newDetectResponse(res.Report)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// ConnectionTypes lists every supported connection type.
func (h *DetectHandler) ConnectionTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"connection_types": probe.AllTypes})
}

// ListManufacturers returns the manufacturer profile summaries.
func (h *DetectHandler) ListManufacturers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"manufacturers": h.Profiles.List()})
}

// StreamTemplates returns the URL templates one manufacturer profile
// would expand during detection. Unknown manufacturers fall back to
// the generic profile, same as detection itself.
func (h *DetectHandler) StreamTemplates(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "manufacturer")
	writeJSON(w, http.StatusOK, map[string]any{
		"manufacturer": name,
		"templates":    h.Profiles.TemplatesFor(name),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
