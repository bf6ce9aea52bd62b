package schedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

// fakeScheduler is a minimal in-memory /v1/schedules server.
type fakeScheduler struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]schedule.Job

	// leak makes list ignore the instance_id filter.
	leak bool
}

func (f *fakeScheduler) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.URL.Query().Get("instance_id")
		out := []schedule.Job{}
		for _, j := range f.jobs {
			if f.leak || j.ResourceID() == id {
				out = append(out, j)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
	})
	mux.HandleFunc("POST /v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		var in scheduleEnvelope
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.seq++
		in.Schedule.ID = fmt.Sprintf("s-%d", f.seq)
		f.jobs[in.Schedule.ID] = in.Schedule
		writeJSON(w, http.StatusOK, in)
	})
	mux.HandleFunc("PUT /v1/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in scheduleEnvelope
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := f.jobs[id]; !ok {
			http.NotFound(w, r)
			return
		}
		in.Schedule.ID = id
		f.jobs[id] = in.Schedule
		writeJSON(w, http.StatusOK, in)
	})
	mux.HandleFunc("DELETE /v1/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := f.jobs[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(f.jobs, id)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{Host: host, Port: port, HTTPClient: srv.Client()}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, logx.Nop())
	require.NoError(t, err)
	return c
}

func snapshotJob(resourceID string) schedule.Job {
	return schedule.Job{
		Tenant:   "t1",
		Action:   schedule.ActionSnapshot,
		Minute:   7,
		Hour:     3,
		Metadata: map[string]string{schedule.MetadataInstanceID: resourceID},
	}
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()
	fs := &fakeScheduler{jobs: map[string]schedule.Job{}}
	c := newTestClient(t, fs.handler(), nil)
	ctx := context.Background()

	created, err := c.CreateJob(ctx, snapshotJob("r1"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "t1", created.Tenant)

	_, err = c.CreateJob(ctx, snapshotJob("r2"))
	require.NoError(t, err)

	jobs, err := c.ListJobs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, created.ID, jobs[0].ID)

	upd := jobs[0]
	upd.Minute = 42
	got, err := c.UpdateJob(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 42, got.Minute)

	require.NoError(t, c.DeleteJob(ctx, created.ID))
	err = c.DeleteJob(ctx, created.ID)
	assert.True(t, schedule.IsNotFound(err), "got %v", err)

	jobs, err = c.ListJobs(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClient_ListFiltersLeakyServer(t *testing.T) {
	t.Parallel()
	fs := &fakeScheduler{jobs: map[string]schedule.Job{}, leak: true}
	c := newTestClient(t, fs.handler(), nil)
	ctx := context.Background()

	_, err := c.CreateJob(ctx, snapshotJob("r1"))
	require.NoError(t, err)
	_, err = c.CreateJob(ctx, snapshotJob("r2"))
	require.NoError(t, err)

	jobs, err := c.ListJobs(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "r2", jobs[0].ResourceID())
}

func TestClient_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		kind      schedule.Kind
		transient bool
	}{
		{"server error", http.StatusInternalServerError, "oops", schedule.KindExternalService, true},
		{"unavailable", http.StatusServiceUnavailable, "", schedule.KindExternalService, true},
		{"throttled", http.StatusTooManyRequests, "", schedule.KindExternalService, true},
		{"bad request", http.StatusBadRequest, "nope", schedule.KindExternalService, false},
		{"forbidden", http.StatusForbidden, "", schedule.KindExternalService, false},
		{"malformed body", http.StatusOK, "{not json", schedule.KindExternalService, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}), nil)

			_, err := c.CreateJob(context.Background(), snapshotJob("r1"))
			require.Error(t, err)
			assert.Equal(t, tt.kind, schedule.KindOf(err))
			assert.Equal(t, tt.transient, schedule.IsTransient(err))
		})
	}
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	srv.Close()

	c, err := New(Config{Host: host, Port: port}, logx.Nop())
	require.NoError(t, err)
	_, err = c.ListJobs(context.Background(), "r1")
	assert.True(t, schedule.IsTransient(err), "got %v", err)
}

func TestClient_TimeoutAndObserve(t *testing.T) {
	t.Parallel()
	var observed atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
		cfg.Observe = func(op string, status int, took time.Duration) {
			assert.Equal(t, "list", op)
			assert.Zero(t, status)
			observed.Add(1)
		}
	})

	_, err := c.ListJobs(context.Background(), "r1")
	assert.True(t, schedule.IsTransient(err), "got %v", err)
	assert.Equal(t, int32(1), observed.Load())
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	fs := &fakeScheduler{jobs: map[string]schedule.Job{}}
	c := newTestClient(t, fs.handler(), func(cfg *Config) {
		cfg.RatePerSec = 0.001
		cfg.Burst = 1
	})

	_, err := c.ListJobs(context.Background(), "r1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ListJobs(ctx, "r1")
	assert.True(t, schedule.IsKind(err, schedule.KindExternalService), "got %v", err)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Port: 80}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Host: "h", Port: 0}, logx.Nop())
	assert.Error(t, err)

	c, err := New(Config{Host: "sched.local", Port: 8780, Scheme: "https"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "https://sched.local:8780", c.BaseURL())
}
