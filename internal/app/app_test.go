package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsched/internal/config"
	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

// fakeScheduler stores jobs in memory behind the /v1/schedules API.
func fakeScheduler(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	var (
		mu   sync.Mutex
		seq  int
		jobs = map[string]schedule.Job{}
	)
	type envelope struct {
		Schedule schedule.Job `json:"schedule"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		out := []schedule.Job{}
		for _, j := range jobs {
			if j.ResourceID() == r.URL.Query().Get("instance_id") {
				out = append(out, j)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"schedules": out})
	})
	mux.HandleFunc("POST /v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		var in envelope
		_ = json.NewDecoder(r.Body).Decode(&in)
		mu.Lock()
		defer mu.Unlock()
		seq++
		in.Schedule.ID = fmt.Sprint(seq)
		jobs[in.Schedule.ID] = in.Schedule
		_ = json.NewEncoder(w).Encode(in)
	})
	mux.HandleFunc("DELETE /v1/schedules/{id}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := jobs[r.PathValue("id")]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(jobs, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(jobs)
	}
}

func writeConfig(t *testing.T, schedAddr string) string {
	t.Helper()
	host, port, err := net.SplitHostPort(schedAddr)
	require.NoError(t, err)
	dir := t.TempDir()
	body := fmt.Sprintf(`
logging:
  level: error
http:
  addr: 127.0.0.1:0
scheduler_service:
  host: %s
  port: %s
  timeout: 2s
registry:
  driver: sqlite
  path: %s
metrics:
  enabled: true
`, host, port, filepath.Join(dir, "snapsched.db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func call(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestApp_EndToEnd(t *testing.T) {
	sched, jobCount := fakeScheduler(t)
	a, err := NewApp(writeConfig(t, sched.Listener.Addr().String()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	base := "http://" + a.Addr()

	status, body := call(t, http.MethodPost, base+"/servers", `{"server":{"name":"web"}}`)
	require.Equal(t, http.StatusCreated, status, body)
	var created struct {
		Server struct {
			ID string `json:"id"`
		} `json:"server"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	id := created.Server.ID

	status, body = call(t, http.MethodPut, base+"/servers/"+id+"/os-si-image-schedule", `{"image_schedule":{"retention":5}}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{"image_schedule":{"retention":5}}`, body)
	assert.Equal(t, 1, jobCount())

	status, body = call(t, http.MethodGet, base+"/servers/detail?OS-SI:image_schedule=true", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, id)

	status, body = call(t, http.MethodGet, base+"/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "config.watch")

	status, body = call(t, http.MethodGet, base+"/metrics", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "snapsched_scheduler_request_duration_seconds")

	status, _ = call(t, http.MethodDelete, base+"/servers/"+id, "")
	assert.Equal(t, http.StatusNoContent, status)
	assert.Zero(t, jobCount())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.NoError(t, a.Err())

	select {
	case <-a.Done():
	default:
		t.Fatal("app context not canceled after Stop")
	}
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler_service":{"host":"h","port":0}}`), 0o644))
	_, err := NewApp(p)
	assert.Error(t, err)
}

func TestMapSchedClientConfig_Timeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", defaultSchedulerTimeout},
		{"0s", 0},
		{"750ms", 750 * time.Millisecond},
	}
	for _, tt := range tests {
		cfg := &config.Config{SchedulerService: config.SchedulerServiceConfig{Host: "h", Port: 1, Timeout: tt.raw}}
		got, err := mapSchedClientConfig(cfg, nil)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got.Timeout, tt.raw)
	}

	_, err := mapSchedClientConfig(&config.Config{SchedulerService: config.SchedulerServiceConfig{Timeout: "soon"}}, nil)
	assert.Error(t, err)
}

func TestMapReconcilerOptions(t *testing.T) {
	t.Parallel()
	cfg := (config.Config{}).WithDefaults()
	cfg.Schedule.TriggerOnUpdate = config.TriggerKeep
	cfg.Schedule.DeletePolicy = config.DeleteStrict

	opt := mapReconcilerOptions(&cfg, logx.Nop())
	assert.Equal(t, schedule.TriggerKeep, opt.TriggerPolicy)
	assert.Equal(t, schedule.DeleteStrict, opt.DeletePolicy)
	assert.Equal(t, config.DefaultMaxRetention, opt.MaxRetention)
}
