package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"snapsched/internal/registry"
	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

const maxRequestBody = 1 << 20

type handlers struct {
	reg    registry.Store
	rec    *schedule.Reconciler
	flt    *schedule.Filter
	health func() any
	log    logx.Logger
	now    func() time.Time
}

// ---- image schedule ----

type scheduleView struct {
	Retention int `json:"retention"`
}

type scheduleResponse struct {
	ImageSchedule scheduleView `json:"image_schedule"`
}

type scheduleRequest struct {
	ImageSchedule *struct {
		Retention json.RawMessage `json:"retention"`
	} `json:"image_schedule"`
}

func (h *handlers) showSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "server_id")
	n, err := h.rec.Read(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{ImageSchedule: scheduleView{Retention: n}})
}

func (h *handlers) putSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "server_id")

	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.ImageSchedule == nil {
		writeError(w, r, h.log, unprocessable("Missing image_schedule in request body"))
		return
	}

	n, err := h.rec.Create(r.Context(), id, retentionString(req.ImageSchedule.Retention))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{ImageSchedule: scheduleView{Retention: n}})
}

func (h *handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "server_id")
	if err := h.rec.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// retentionString accepts a JSON number or a numeric string. Numbers with
// an integral value (7.0, 7e0) are normalised to their integer form.
// Anything else is passed through verbatim so validation reports it.
func retentionString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return string(raw)
}

// ---- servers ----

type retentionView struct {
	Retention *int `json:"retention"`
}

type serverView struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	CreatedAt     *time.Time        `json:"created_at,omitempty"`
	Metadata      registry.Metadata `json:"metadata,omitempty"`
	ImageSchedule *retentionView    `json:"OS-SI:image_schedule,omitempty"`
}

type serverResponse struct {
	Server serverView `json:"server"`
}

type serversResponse struct {
	Servers []serverView `json:"servers"`
}

type createServerRequest struct {
	Server *struct {
		Name     string            `json:"name"`
		Metadata registry.Metadata `json:"metadata"`
	} `json:"server"`
}

func toView(s schedule.Summary, detail bool) serverView {
	v := serverView{ID: s.ID, Name: s.Name}
	if detail {
		created := s.CreatedAt
		v.CreatedAt = &created
		v.Metadata = s.Metadata
		if v.Metadata == nil {
			v.Metadata = registry.Metadata{}
		}
	}
	if s.Scheduled {
		v.ImageSchedule = &retentionView{Retention: s.Retention}
	}
	return v
}

func (h *handlers) listServers(detail bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		vals, present := q[schedule.SettingKey]
		value := ""
		if present && len(vals) > 0 {
			value = vals[0]
		}
		mode, err := schedule.ParseFilter(value, present)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}

		resources, err := h.reg.List(r.Context())
		if err != nil {
			writeError(w, r, h.log, schedule.ExternalService("registry: list", false, err))
			return
		}
		summaries, err := h.flt.Enrich(r.Context(), resources, mode)
		if err != nil {
			writeError(w, r, h.log, err)
			return
		}

		out := serversResponse{Servers: make([]serverView, 0, len(summaries))}
		for _, s := range summaries {
			out.Servers = append(out.Servers, toView(s, detail))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *handlers) showServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "server_id")
	res, err := h.reg.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	s, err := h.flt.EnrichSingle(r.Context(), res)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, serverResponse{Server: toView(s, true)})
}

// createServer registers a resource. The reserved schedule key cannot be
// set through here; it is owned by the schedule endpoints.
func (h *handlers) createServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.Server == nil {
		writeError(w, r, h.log, unprocessable("Missing server in request body"))
		return
	}

	res := registry.Resource{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Server.Name),
		CreatedAt: h.now().UTC().Truncate(time.Millisecond),
		Metadata:  schedule.WithoutSetting(req.Server.Metadata),
	}
	if err := h.reg.Put(r.Context(), res); err != nil {
		writeError(w, r, h.log, schedule.ExternalService("registry: put", false, err))
		return
	}
	h.log.Info("server registered", logx.String("resource_id", res.ID), logx.String("name", res.Name))

	w.Header().Set("Location", "/servers/"+res.ID)
	writeJSON(w, http.StatusCreated, serverResponse{Server: toView(schedule.Summary{Resource: res}, true)})
}

// deleteServer removes the resource and then always runs the cleanup hook,
// so leftovers of an earlier partial deletion are swept on retry.
func (h *handlers) deleteServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "server_id")
	ctx := r.Context()

	regErr := h.reg.Delete(ctx, id)
	if regErr != nil && !errors.Is(regErr, registry.ErrNotFound) {
		writeError(w, r, h.log, schedule.ExternalService("registry: delete", false, regErr))
		return
	}
	hookErr := h.flt.OnResourceDeleted(ctx, id)

	switch {
	case regErr != nil:
		writeError(w, r, h.log, regErr)
	case hookErr != nil:
		writeError(w, r, h.log, hookErr)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---- misc ----

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.health != nil {
		body["supervisor"] = h.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func notFound(log logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, log, &apiError{http.StatusNotFound, CodeNotFound, "route not found"})
	}
}

func methodNotAllowed(log logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, log, &apiError{http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed"})
	}
}

// decodeBody decodes a JSON request body. An empty body decodes to the zero
// value so the caller reports the missing object.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("Malformed request body: " + err.Error())
	}
	return nil
}
