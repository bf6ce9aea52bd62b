// Package schedclient talks to the external recurring-task scheduler
// service over its REST API (/v1/schedules).
package schedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/time/rate"

	"snapsched/internal/schedule"
	"snapsched/pkg/logx"
)

const schedulesPath = "/v1/schedules"

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Config configures a Client.
type Config struct {
	Scheme string // default "http"
	Host   string
	Port   int

	// Timeout bounds each request on top of the caller's context. 0 disables it.
	Timeout time.Duration

	// RatePerSec <= 0 disables client-side limiting.
	RatePerSec float64
	Burst      int

	// HTTPClient overrides the pooled cleanhttp client (tests).
	HTTPClient *http.Client

	// Observe, if set, is called once per request with the operation name,
	// the HTTP status (0 on transport failure) and the latency.
	Observe func(op string, status int, took time.Duration)
}

// Client implements schedule.JobStore.
type Client struct {
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	observe func(op string, status int, took time.Duration)
	log     logx.Logger
}

var _ schedule.JobStore = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("schedclient: host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("schedclient: port %d out of range", cfg.Port)
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	observe := cfg.Observe
	if observe == nil {
		observe = func(string, int, time.Duration) {}
	}

	return &Client{
		base: &url.URL{
			Scheme: scheme,
			Host:   net.JoinHostPort(strings.TrimSpace(cfg.Host), strconv.Itoa(cfg.Port)),
		},
		hc:      hc,
		limiter: limiter,
		timeout: cfg.Timeout,
		observe: observe,
		log:     log.With(logx.String("comp", "schedclient")),
	}, nil
}

// BaseURL returns the scheduler endpoint, e.g. "http://127.0.0.1:8780".
func (c *Client) BaseURL() string { return c.base.String() }

type scheduleEnvelope struct {
	Schedule schedule.Job `json:"schedule"`
}

type listEnvelope struct {
	Schedules []schedule.Job `json:"schedules"`
}

func (c *Client) ListJobs(ctx context.Context, resourceID string) ([]schedule.Job, error) {
	q := url.Values{}
	q.Set(schedule.MetadataInstanceID, resourceID)

	var out listEnvelope
	if err := c.do(ctx, "list", http.MethodGet, schedulesPath, q, nil, &out); err != nil {
		if schedule.IsNotFound(err) {
			return nil, schedule.ExternalService("scheduler: list", false, err)
		}
		return nil, err
	}
	// The filter is applied server side; re-check so a lax server cannot
	// hand back jobs of other resources.
	jobs := make([]schedule.Job, 0, len(out.Schedules))
	for _, j := range out.Schedules {
		if j.ResourceID() == resourceID {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (c *Client) CreateJob(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	job.ID = ""
	var out scheduleEnvelope
	if err := c.do(ctx, "create", http.MethodPost, schedulesPath, nil, scheduleEnvelope{Schedule: job}, &out); err != nil {
		return schedule.Job{}, err
	}
	if out.Schedule.ID == "" {
		return schedule.Job{}, schedule.ExternalService("scheduler: create", false, errors.New("response has no schedule id"))
	}
	return out.Schedule, nil
}

func (c *Client) UpdateJob(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	if job.ID == "" {
		return schedule.Job{}, errors.New("schedclient: update needs a job id")
	}
	id := job.ID
	job.ID = ""
	var out scheduleEnvelope
	if err := c.do(ctx, "update", http.MethodPut, jobPath(id), nil, scheduleEnvelope{Schedule: job}, &out); err != nil {
		return schedule.Job{}, err
	}
	if out.Schedule.ID == "" {
		out.Schedule.ID = id
	}
	return out.Schedule, nil
}

func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, "delete", http.MethodDelete, jobPath(jobID), nil, nil, nil)
}

func jobPath(id string) string {
	return schedulesPath + "/" + url.PathEscape(id)
}

// do performs one request. in is JSON-encoded when non-nil; out is decoded
// from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return schedule.ExternalService("scheduler: "+op+": rate limit wait", true, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := *c.base
	u.Path = path
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("schedclient: encode %s body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("schedclient: build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.log.Debug("scheduler request failed", logx.String("op", op), logx.Err(err))
		return schedule.ExternalService("scheduler: "+op, true, err)
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	c.observe(op, resp.StatusCode, time.Since(start))

	c.log.Trace("scheduler request",
		logx.String("op", op),
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if err := classify(op, resp.StatusCode, raw); err != nil {
		return err
	}
	if readErr != nil {
		return schedule.ExternalService("scheduler: "+op+": read body", true, readErr)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return schedule.ExternalService("scheduler: "+op, false, errors.New("empty response body"))
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schedule.ExternalService("scheduler: "+op+": decode", false, err)
	}
	return nil
}

// classify maps a non-2xx status to a *schedule.Error.
func classify(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	cause := fmt.Errorf("status %d: %s", status, msg)
	switch {
	case status == http.StatusNotFound:
		return &schedule.Error{Kind: schedule.KindNotFound, Message: "scheduler: " + op + ": job not found", Err: cause}
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return schedule.ExternalService("scheduler: "+op, true, cause)
	default:
		return schedule.ExternalService("scheduler: "+op, false, cause)
	}
}
