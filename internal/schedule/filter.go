package schedule

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"snapsched/internal/registry"
	"snapsched/pkg/logx"
)

// Summary is a listed resource with its schedule annotation.
type Summary struct {
	registry.Resource
	Scheduled bool
	// Retention is nil when unscheduled or when the stored value is unreadable.
	Retention *int
}

// Filter annotates resource listings with schedule state. It reads only
// the metadata store; the job store is used by the deletion hook.
type Filter struct {
	meta MetadataStore
	jobs JobStore
	log  logx.Logger
}

func NewFilter(meta MetadataStore, jobs JobStore, log logx.Logger) *Filter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Filter{meta: meta, jobs: jobs, log: log.With(logx.String("comp", "filter"))}
}

// Enrich annotates resources and drops those excluded by mode. Survivors
// keep their relative order.
func (f *Filter) Enrich(ctx context.Context, resources []registry.Resource, mode FilterMode) ([]Summary, error) {
	out := make([]Summary, 0, len(resources))
	for _, res := range resources {
		s, err := f.EnrichSingle(ctx, res)
		if err != nil {
			return nil, err
		}
		switch mode {
		case FilterScheduled:
			if !s.Scheduled {
				continue
			}
		case FilterUnscheduled:
			if s.Scheduled {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// EnrichSingle attaches the retention if the resource has a schedule.
// A resource that vanished from the registry is returned unannotated.
func (f *Filter) EnrichSingle(ctx context.Context, res registry.Resource) (Summary, error) {
	s := Summary{Resource: res}
	md, err := f.meta.Metadata(ctx, res.ID)
	if errors.Is(err, registry.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return Summary{}, withResource(ExternalService("registry: get metadata", registry.IsTransient(err), err), res.ID)
	}
	n, ok, err := SettingFrom(md)
	s.Scheduled = ok
	if err != nil {
		f.log.Warn("unreadable schedule setting", logx.String("resource_id", res.ID), logx.Err(err))
		return s, nil
	}
	if ok {
		s.Retention = &n
	}
	return s, nil
}

// OnResourceDeleted removes the schedule setting and every job bound to the
// resource. Missing metadata, resources or jobs are not errors, so the hook
// can run before or after Reconciler.Delete and any number of times.
func (f *Filter) OnResourceDeleted(ctx context.Context, resourceID string) error {
	log := f.log.With(logx.String("resource_id", resourceID))
	var result *multierror.Error

	if err := f.meta.DeleteMetadata(ctx, resourceID, SettingKey); err != nil && !errors.Is(err, registry.ErrNotFound) {
		result = multierror.Append(result, withResource(ExternalService("registry: delete metadata", registry.IsTransient(err), err), resourceID))
	}

	jobs, err := f.jobs.ListJobs(ctx, resourceID)
	if err != nil {
		result = multierror.Append(result, withResource(err, resourceID))
		return f.cleanupResult(log, result, 0)
	}
	deleted := 0
	for _, j := range jobs {
		err := f.jobs.DeleteJob(ctx, j.ID)
		switch {
		case err == nil:
			deleted++
		case IsNotFound(err):
		default:
			result = multierror.Append(result, withResource(err, resourceID))
		}
	}
	return f.cleanupResult(log, result, deleted)
}

func (f *Filter) cleanupResult(log logx.Logger, result *multierror.Error, deleted int) error {
	if err := result.ErrorOrNil(); err != nil {
		log.Warn("schedule cleanup incomplete", logx.Int("jobs_deleted", deleted), logx.Err(err))
		return err
	}
	if deleted > 0 {
		log.Info("schedule cleaned up after resource deletion", logx.Int("jobs_deleted", deleted))
	}
	return nil
}
