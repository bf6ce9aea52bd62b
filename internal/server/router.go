// Package server is the REST binding of snapsched: the image schedule
// endpoints and the bundled server registry endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"snapsched/internal/registry"
	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

// Deps are the collaborators of the router.
type Deps struct {
	Registry   registry.Store
	Reconciler *schedule.Reconciler
	Filter     *schedule.Filter

	// Metrics is optional; MetricsPath is only served when it is set.
	Metrics     *Metrics
	MetricsPath string

	// Health, if set, is embedded in the /healthz body.
	Health func() any

	Log logx.Logger
	Now func() time.Time
}

// NewRouter builds the HTTP handler.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /servers[?OS-SI:image_schedule=true|false]
//	POST   /servers
//	GET    /servers/detail[?OS-SI:image_schedule=true|false]
//	GET    /servers/{server_id}
//	DELETE /servers/{server_id}
//	GET    /servers/{server_id}/os-si-image-schedule
//	PUT    /servers/{server_id}/os-si-image-schedule
//	DELETE /servers/{server_id}/os-si-image-schedule
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))
	now := d.Now
	if now == nil {
		now = time.Now
	}
	h := &handlers{
		reg:    d.Registry,
		rec:    d.Reconciler,
		flt:    d.Filter,
		health: d.Health,
		log:    log,
		now:    now,
	}

	r := chi.NewRouter()
	r.Use(requestID, accessLog(log, d.Metrics), recoverer(log))
	r.NotFound(notFound(log))
	r.MethodNotAllowed(methodNotAllowed(log))

	r.Get("/healthz", h.healthz)
	if d.Metrics != nil && d.MetricsPath != "" {
		r.Method(http.MethodGet, d.MetricsPath, d.Metrics.Handler())
	}

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", h.listServers(false))
		r.Post("/", h.createServer)
		r.Get("/detail", h.listServers(true))

		r.Route("/{server_id}", func(r chi.Router) {
			r.Get("/", h.showServer)
			r.Delete("/", h.deleteServer)

			r.With(tenant).Route("/os-si-image-schedule", func(r chi.Router) {
				r.Get("/", h.showSchedule)
				r.Put("/", h.putSchedule)
				r.Delete("/", h.deleteSchedule)
			})
		})
	})
	return r
}
