package schedule

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"snapsched/internal/registry"
	"snapsched/pkg/logx"
)

// TriggerPolicy decides what happens to an existing job's minute/hour when
// create is called on an already scheduled resource.
type TriggerPolicy string

const (
	// TriggerReroll picks a fresh random trigger on every create.
	TriggerReroll TriggerPolicy = "reroll"
	// TriggerKeep reuses the existing job's trigger.
	TriggerKeep TriggerPolicy = "keep"
)

// DeletePolicy decides how delete treats multiple jobs for one resource.
type DeletePolicy string

const (
	// DeleteFirst deletes the first listed job without checking for more.
	DeleteFirst DeletePolicy = "first"
	// DeleteStrict fails with ConsistencyViolation when >= 2 jobs exist.
	DeleteStrict DeletePolicy = "strict"
)

const DefaultMaxRetention = 30

// Options configures a Reconciler. Zero values fall back to defaults.
type Options struct {
	MaxRetention  int
	TriggerPolicy TriggerPolicy
	DeletePolicy  DeletePolicy

	// Rand seeds trigger selection. Tests pass a fixed source.
	Rand *rand.Rand
	Now  func() time.Time
	Log  logx.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetention <= 0 {
		o.MaxRetention = DefaultMaxRetention
	}
	if o.TriggerPolicy == "" {
		o.TriggerPolicy = TriggerReroll
	}
	if o.DeletePolicy == "" {
		o.DeletePolicy = DeleteFirst
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

// Reconciler keeps the metadata setting and the scheduler job of a resource
// in step.
type Reconciler struct {
	jobs JobStore
	meta MetadataStore
	opt  Options
	log  logx.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewReconciler(jobs JobStore, meta MetadataStore, opt Options) *Reconciler {
	opt = opt.withDefaults()
	return &Reconciler{
		jobs: jobs,
		meta: meta,
		opt:  opt,
		log:  opt.Log.With(logx.String("comp", "reconciler")),
		rng:  opt.Rand,
	}
}

func (r *Reconciler) MaxRetention() int { return r.opt.MaxRetention }

// Read returns the stored retention after checking it against the job
// store. A setting with no job behind it is removed and reported as
// NotFound; two or more jobs are a ConsistencyViolation.
func (r *Reconciler) Read(ctx context.Context, resourceID string) (int, error) {
	md, err := r.metadata(ctx, resourceID)
	if err != nil {
		return 0, err
	}
	n, ok, err := SettingFrom(md)
	if err != nil {
		return 0, withResource(err, resourceID)
	}
	if !ok {
		return 0, NotFound(resourceID, "Image schedule does not exist for this server")
	}

	jobs, err := r.jobs.ListJobs(ctx, resourceID)
	if err != nil {
		return 0, r.jobErr(resourceID, "list jobs", err)
	}
	log := r.log.With(logx.String("resource_id", resourceID))
	switch len(jobs) {
	case 1:
		return n, nil
	case 0:
		r.dropStaleSetting(ctx, log, resourceID)
		return 0, NotFound(resourceID, "Image schedule does not exist for this server")
	default:
		log.Error("schedule consistency violation", logx.Int("job_count", len(jobs)), logx.String("op", "read"))
		return 0, ConsistencyViolation(resourceID, len(jobs))
	}
}

// Create enables or updates the schedule and returns the stored retention.
//
// The job store is written before the metadata, so metadata never claims a
// schedule whose job was not accepted.
func (r *Reconciler) Create(ctx context.Context, resourceID, retention string) (int, error) {
	n, err := ParseRetention(resourceID, retention, r.opt.MaxRetention)
	if err != nil {
		return 0, err
	}
	if _, err := r.metadata(ctx, resourceID); err != nil {
		return 0, err
	}

	jobs, err := r.jobs.ListJobs(ctx, resourceID)
	if err != nil {
		return 0, r.jobErr(resourceID, "list jobs", err)
	}

	log := r.log.With(logx.String("resource_id", resourceID))
	var job Job
	switch len(jobs) {
	case 0:
		job, err = r.jobs.CreateJob(ctx, r.newJob(ctx, resourceID, nil))
		if err != nil {
			return 0, r.jobErr(resourceID, "create job", err)
		}
		r.logTrigger(log, "schedule job created", job)
	case 1:
		job, err = r.jobs.UpdateJob(ctx, r.newJob(ctx, resourceID, &jobs[0]))
		if err != nil {
			return 0, r.jobErr(resourceID, "update job", err)
		}
		r.logTrigger(log, "schedule job updated", job)
	default:
		log.Error("schedule consistency violation", logx.Int("job_count", len(jobs)), logx.String("op", "create"))
		return 0, ConsistencyViolation(resourceID, len(jobs))
	}

	md, err := r.meta.UpdateMetadata(ctx, resourceID, WithSetting(nil, n), false)
	if err != nil {
		return 0, r.metaErr(resourceID, "update metadata", err)
	}
	stored, ok, err := SettingFrom(md)
	if err != nil {
		return 0, withResource(err, resourceID)
	}
	if !ok {
		return 0, Internal(resourceID, "schedule setting missing after update", nil)
	}
	return stored, nil
}

// Delete removes the job and then the metadata setting.
//
// If no job exists but a stale setting does, the setting is removed before
// NotFound is returned.
func (r *Reconciler) Delete(ctx context.Context, resourceID string) error {
	log := r.log.With(logx.String("resource_id", resourceID))

	jobs, err := r.jobs.ListJobs(ctx, resourceID)
	if err != nil {
		return r.jobErr(resourceID, "list jobs", err)
	}
	if len(jobs) == 0 {
		r.dropStaleSetting(ctx, log, resourceID)
		return NotFound(resourceID, "Image schedule does not exist for this server")
	}
	if len(jobs) > 1 {
		if r.opt.DeletePolicy == DeleteStrict {
			log.Error("schedule consistency violation", logx.Int("job_count", len(jobs)), logx.String("op", "delete"))
			return ConsistencyViolation(resourceID, len(jobs))
		}
		log.Warn("multiple schedule jobs; deleting the first", logx.Int("job_count", len(jobs)))
	}

	if err := r.jobs.DeleteJob(ctx, jobs[0].ID); err != nil {
		return r.jobErr(resourceID, "delete job", err)
	}
	log.Info("schedule job deleted", logx.String("job_id", jobs[0].ID))

	err = r.meta.DeleteMetadata(ctx, resourceID, SettingKey)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		log.Debug("resource gone; nothing to clear")
	case err != nil:
		return r.metaErr(resourceID, "delete metadata", err)
	}
	return nil
}

func (r *Reconciler) dropStaleSetting(ctx context.Context, log logx.Logger, resourceID string) {
	md, err := r.meta.Metadata(ctx, resourceID)
	if err != nil {
		return
	}
	if _, ok := md[SettingKey]; !ok {
		return
	}
	if err := r.meta.DeleteMetadata(ctx, resourceID, SettingKey); err != nil {
		log.Warn("stale schedule setting not removed", logx.Err(err))
		return
	}
	log.Warn("removed schedule setting without a job")
}

// newJob builds the job body. prev is the existing job when updating.
func (r *Reconciler) newJob(ctx context.Context, resourceID string, prev *Job) Job {
	job := Job{
		Tenant:   TenantFromContext(ctx),
		Action:   ActionSnapshot,
		Metadata: map[string]string{MetadataInstanceID: resourceID},
	}
	trig := r.randomTrigger()
	if prev != nil {
		job.ID = prev.ID
		if job.Tenant == "" {
			job.Tenant = prev.Tenant
		}
		if r.opt.TriggerPolicy == TriggerKeep {
			if _, err := prev.Trigger().Schedule(); err == nil {
				trig = prev.Trigger()
			} else {
				r.log.Warn("existing trigger unusable; picking a new one",
					logx.String("resource_id", resourceID), logx.String("job_id", prev.ID), logx.Err(err))
			}
		}
	}
	job.Minute, job.Hour = trig.Minute, trig.Hour
	return job
}

func (r *Reconciler) randomTrigger() Trigger {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return RandomTrigger(r.rng)
}

func (r *Reconciler) logTrigger(log logx.Logger, msg string, job Job) {
	fields := []logx.Field{
		logx.String("job_id", job.ID),
		logx.String("trigger", job.Trigger().String()),
	}
	if log.Enabled(logx.LevelDebug) {
		if next, err := job.Trigger().NextRuns(r.opt.Now().UTC(), 3); err == nil && len(next) > 0 {
			parts := make([]string, len(next))
			for i, t := range next {
				parts[i] = t.Format(time.RFC3339)
			}
			fields = append(fields, logx.String("next", strings.Join(parts, ", ")))
		}
	}
	log.Info(msg, fields...)
}

func (r *Reconciler) metadata(ctx context.Context, resourceID string) (registry.Metadata, error) {
	md, err := r.meta.Metadata(ctx, resourceID)
	if err != nil {
		return nil, r.metaErr(resourceID, "get metadata", err)
	}
	return md, nil
}

func (r *Reconciler) metaErr(resourceID, op string, err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return NotFound(resourceID, "The instance could not be found")
	}
	var e *Error
	if errors.As(err, &e) {
		return withResource(err, resourceID)
	}
	transient := registry.IsTransient(err)
	r.log.Warn("registry call failed",
		logx.String("op", op),
		logx.String("resource_id", resourceID),
		logx.Bool("transient", transient),
		logx.Err(err),
	)
	return withResource(ExternalService("registry: "+op, transient, err), resourceID)
}

func (r *Reconciler) jobErr(resourceID, op string, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		e = ExternalService("scheduler: "+op, false, err)
	}
	if e.Kind == KindExternalService {
		r.log.Warn("scheduler call failed",
			logx.String("op", op),
			logx.String("resource_id", resourceID),
			logx.Bool("transient", e.Transient),
			logx.Err(err),
		)
	}
	return withResource(e, resourceID)
}

// withResource fills in the resource id on a *Error that lacks one.
func withResource(err error, resourceID string) error {
	var e *Error
	if errors.As(err, &e) && e.ResourceID == "" {
		cp := *e
		cp.ResourceID = resourceID
		return &cp
	}
	return err
}
