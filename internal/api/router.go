package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ohmvision/camconnect/internal/middleware"
)

// RouterDeps bundles everything the HTTP surface needs. Nil optional
// fields disable the matching middleware or endpoint.
type RouterDeps struct {
	Detect  *DetectHandler
	Cameras *CameraHandler
	Health  *HealthHandler
	Hub     *EventHub
	AuthH   *AuthHandler

	Auth      *middleware.JWTAuth
	RateLimit *middleware.RateLimitMiddleware
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestLogger)
	r.Use(middleware.HTTPMetrics)
	r.Use(middleware.CORS)
	if deps.RateLimit != nil {
		r.Use(deps.RateLimit.Limit)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Middleware)
		}

		// Reads
		r.Get("/discovery/connection-types", deps.Detect.ConnectionTypes)
		r.Get("/discovery/manufacturers", deps.Detect.ListManufacturers)
		r.Get("/discovery/stream-templates/{manufacturer}", deps.Detect.StreamTemplates)
		r.Get("/cameras", deps.Cameras.List)
		r.Get("/cameras/{id}", deps.Cameras.Get)
		r.Get("/health/status", deps.Health.Summary)
		r.Get("/health/cameras", deps.Health.ListHealth)
		r.Get("/health/cameras/{id}", deps.Health.GetCameraHealth)
		r.Get("/health/cameras/{id}/reconnection", deps.Health.GetReconnection)
		r.Get("/health/cameras/{id}/history", deps.Health.GetHistory)

		if deps.Hub != nil {
			r.Get("/health/ws", deps.Hub.ServeWS)
		}
		if deps.AuthH != nil {
			r.Post("/auth/logout", deps.AuthH.Logout)
		}

		// Mutations gate on role
		r.Group(func(r chi.Router) {
			if deps.Auth != nil {
				r.Use(middleware.RequireMutate)
			}
			r.Post("/discovery/auto-detect", deps.Detect.Detect)
			r.Post("/discovery/batch-test", deps.Detect.BatchTest)
			r.Post("/cameras", deps.Cameras.Register)
			r.Delete("/cameras/{id}", deps.Cameras.Delete)
			r.Post("/health/cameras/{id}/check-now", deps.Health.CheckNow)
			r.Post("/health/cameras/{id}/reconnect", deps.Health.Reconnect)
		})
	})

	return r
}
