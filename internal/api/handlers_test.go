package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmvision/camconnect/internal/api"
	"github.com/ohmvision/camconnect/internal/detect"
	"github.com/ohmvision/camconnect/internal/middleware"
	"github.com/ohmvision/camconnect/internal/monitor"
	"github.com/ohmvision/camconnect/internal/probe"
	"github.com/ohmvision/camconnect/internal/profiles"
	"github.com/ohmvision/camconnect/internal/tokens"
)

type stubProber struct {
	fn func(c probe.Candidate) probe.Result
}

func (s *stubProber) Test(ctx context.Context, c probe.Candidate, timeout time.Duration) probe.Result {
	return s.fn(c)
}

func installProber(t *testing.T, typ probe.ConnectionType, fn func(c probe.Candidate) probe.Result) {
	t.Helper()
	prev, had := probe.Get(typ)
	probe.Register(typ, &stubProber{fn: fn})
	t.Cleanup(func() {
		if had {
			probe.Register(typ, prev)
		}
	})
}

func allDown(t *testing.T) {
	t.Helper()
	for _, typ := range probe.AllTypes {
		installProber(t, typ, func(c probe.Candidate) probe.Result {
			return probe.Result{Type: c.Type, URL: c.URL, Reason: probe.ReasonUnreachable, Error: "connection refused"}
		})
	}
}

func newTestRouter(t *testing.T, auth *middleware.JWTAuth) http.Handler {
	t.Helper()
	reg := profiles.NewRegistry()
	engine := detect.New(reg, detect.Options{ProbeTimeout: time.Second})
	store := monitor.NewStore()
	svc := monitor.NewService(store, monitor.ServiceConfig{})

	return api.NewRouter(api.RouterDeps{
		Detect:  api.NewDetectHandler(engine, reg),
		Cameras: api.NewCameraHandler(svc, engine),
		Health:  api.NewHealthHandler(svc, nil),
		Hub:     api.NewEventHub(),
		AuthH:   api.NewAuthHandler(nil),
		Auth:    auth,
	})
}

// memBlacklist keeps revoked token ids in memory for tests.
type memBlacklist struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (m *memBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memBlacklist) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDetectEndpoint(t *testing.T) {
	allDown(t)
	installProber(t, probe.TypeRTSP, func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: 150}
	})

	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/discovery/auto-detect", map[string]any{
		"ip":           "192.0.2.10",
		"manufacturer": "hikvision",
		"username":     "admin",
		"password":     "pw",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success           bool           `json:"success"`
		RecommendedMethod string         `json:"recommended_method"`
		RecommendedURL    string         `json:"recommended_url"`
		AllResults        []probe.Result `json:"all_results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "rtsp", resp.RecommendedMethod)
	assert.Contains(t, resp.RecommendedURL, "rtsp://")
	assert.NotEmpty(t, resp.AllResults)
}

func TestDetectMissingHost(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/discovery/auto-detect", map[string]any{
		"manufacturer": "dahua",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestBatchTestEndpoint(t *testing.T) {
	allDown(t)
	router := newTestRouter(t, nil)

	w := doJSON(t, router, "POST", "/api/v1/discovery/batch-test", map[string]any{
		"targets": []map[string]any{
			{"ip": "192.0.2.21"},
			{"ip": "192.0.2.22"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []struct {
			Camera struct {
				IP string `json:"ip"`
			} `json:"camera"`
			Report struct {
				Success bool `json:"success"`
			} `json:"report"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "192.0.2.21", resp.Results[0].Camera.IP)
	assert.False(t, resp.Results[0].Report.Success)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestBatchTestEmpty(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/discovery/batch-test", map[string]any{"targets": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestConnectionTypes(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, "GET", "/api/v1/discovery/connection-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, typ := range []string{"rtsp", "onvif", "cloud_api", "file"} {
		assert.Contains(t, w.Body.String(), typ)
	}
}

func TestManufacturersEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)
	w := doJSON(t, router, "GET", "/api/v1/discovery/manufacturers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hikvision")
	assert.Contains(t, w.Body.String(), "generic")
}

func TestStreamTemplatesEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	w := doJSON(t, router, "GET", "/api/v1/discovery/stream-templates/hikvision", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rtsp://")

	// Unknown manufacturers degrade to the generic templates
	w = doJSON(t, router, "GET", "/api/v1/discovery/stream-templates/nosuchbrand", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rtsp://")
}

func TestCameraLifecycle(t *testing.T) {
	installProber(t, probe.TypeRTSP, func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: 90}
	})

	router := newTestRouter(t, nil)
	id := uuid.New()

	// Register
	w := doJSON(t, router, "POST", "/api/v1/cameras", map[string]any{
		"camera_id":          id.String(),
		"connection_type":    "rtsp",
		"primary_stream_url": "rtsp://192.0.2.40:554/stream1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Listed
	w = doJSON(t, router, "GET", "/api/v1/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	// Immediate check
	w = doJSON(t, router, "POST", "/api/v1/health/cameras/"+id.String()+"/check-now", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec monitor.HealthRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, monitor.LevelExcellent, rec.Level)

	// Health endpoints reflect it
	w = doJSON(t, router, "GET", "/api/v1/health/cameras/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "excellent")

	w = doJSON(t, router, "GET", "/api/v1/health/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id.String())

	w = doJSON(t, router, "GET", "/api/v1/health/cameras/"+id.String()+"/reconnection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reconnection":null`)

	// Summary counts it
	w = doJSON(t, router, "GET", "/api/v1/health/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	// Delete
	w = doJSON(t, router, "DELETE", "/api/v1/cameras/"+id.String(), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/v1/cameras/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterWithoutCameraID(t *testing.T) {
	installProber(t, probe.TypeRTSP, func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: 80}
	})

	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/cameras", map[string]any{
		"connection_type":    "rtsp",
		"primary_stream_url": "rtsp://192.0.2.42:554/stream1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// The generated id comes back to the caller and resolves the camera.
	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.NotEqual(t, uuid.Nil, snap.Connection.CameraID)

	w = doJSON(t, router, "GET", "/api/v1/cameras/"+snap.Connection.CameraID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterRunsAutoDetect(t *testing.T) {
	allDown(t)
	installProber(t, probe.TypeRTSP, func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: 60}
	})

	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/cameras", map[string]any{
		"ip":           "192.0.2.43",
		"manufacturer": "hikvision",
		"username":     "admin",
		"password":     "pw",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, probe.TypeRTSP, snap.Connection.Type)
	assert.Contains(t, snap.Connection.PrimaryURL, "rtsp://192.0.2.43")
}

func TestRegisterAutoDetectNothingWorks(t *testing.T) {
	allDown(t)
	router := newTestRouter(t, nil)
	w := doJSON(t, router, "POST", "/api/v1/cameras", map[string]any{
		"ip": "192.0.2.44",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "no working connection")
}

func TestReconnectEndpoint(t *testing.T) {
	installProber(t, probe.TypeRTSP, func(c probe.Candidate) probe.Result {
		return probe.Result{Success: true, Type: c.Type, URL: c.URL, ResponseTimeMS: 40}
	})

	router := newTestRouter(t, nil)
	id := uuid.New()
	w := doJSON(t, router, "POST", "/api/v1/cameras", map[string]any{
		"camera_id":          id.String(),
		"connection_type":    "rtsp",
		"primary_stream_url": "rtsp://192.0.2.41:554/stream1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, "POST", "/api/v1/health/cameras/"+id.String()+"/reconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap monitor.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, monitor.LevelExcellent, snap.Health.Level)
	assert.Nil(t, snap.Reconnection)
}

func TestUnknownCameraRoutes(t *testing.T) {
	router := newTestRouter(t, nil)
	id := uuid.New().String()

	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/cameras/" + id},
		{"GET", "/api/v1/health/cameras/" + id},
		{"GET", "/api/v1/health/cameras/" + id + "/reconnection"},
		{"POST", "/api/v1/health/cameras/" + id + "/check-now"},
		{"POST", "/api/v1/health/cameras/" + id + "/reconnect"},
		{"DELETE", "/api/v1/cameras/" + id},
	} {
		w := doJSON(t, router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}

	w := doJSON(t, router, "GET", "/api/v1/cameras/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	mgr := tokens.NewManager("api-test-key", time.Hour)
	auth := middleware.NewJWTAuth(mgr, nil)
	router := newTestRouter(t, auth)

	// No token
	w := doJSON(t, router, "GET", "/api/v1/cameras", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Viewer can read but not mutate
	viewerToken, _ := mgr.Generate("viewer@example.com", tokens.RoleViewer)
	req := httptest.NewRequest("GET", "/api/v1/cameras", nil)
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("POST", "/api/v1/discovery/auto-detect", strings.NewReader(`{"ip":"192.0.2.1"}`))
	req.Header.Set("Authorization", "Bearer "+viewerToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Health endpoint stays public
	w = doJSON(t, router, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	mgr := tokens.NewManager("api-test-key", time.Hour)
	bl := &memBlacklist{revoked: map[string]bool{}}
	authmw := middleware.NewJWTAuth(mgr, bl)

	reg := profiles.NewRegistry()
	engine := detect.New(reg, detect.Options{ProbeTimeout: time.Second})
	svc := monitor.NewService(monitor.NewStore(), monitor.ServiceConfig{})
	router := api.NewRouter(api.RouterDeps{
		Detect:  api.NewDetectHandler(engine, reg),
		Cameras: api.NewCameraHandler(svc, engine),
		Health:  api.NewHealthHandler(svc, nil),
		AuthH:   api.NewAuthHandler(bl),
		Auth:    authmw,
	})

	token, err := mgr.Generate("operator@example.com", tokens.RoleOperator)
	require.NoError(t, err)

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("GET", "/api/v1/cameras").Code)
	assert.Equal(t, http.StatusNoContent, do("POST", "/api/v1/auth/logout").Code)

	// The revoked token stops working everywhere.
	assert.Equal(t, http.StatusUnauthorized, do("GET", "/api/v1/cameras").Code)
}

func TestEventHubDropsSlowClients(t *testing.T) {
	hub := api.NewEventHub()
	// No clients connected; must not block or panic.
	hub.Publish(monitor.Event{Type: monitor.EventHealthTransition, At: time.Now()})
}
