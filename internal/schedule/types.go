package schedule

import (
	"context"
	"strconv"
	"strings"

	"snapsched/internal/registry"
)

// SettingKey is the reserved metadata key holding the retention count.
// Its presence means scheduling is enabled for the resource.
const SettingKey = "OS-SI:image_schedule"

// ActionSnapshot is the only job action this package creates.
const ActionSnapshot = "snapshot"

// MetadataInstanceID is the job metadata key that points back at the resource.
const MetadataInstanceID = "instance_id"

// Job is the scheduler service's record of a recurring task.
type Job struct {
	ID       string            `json:"id,omitempty"`
	Tenant   string            `json:"tenant,omitempty"`
	Action   string            `json:"action"`
	Minute   int               `json:"minute"`
	Hour     int               `json:"hour"`
	Metadata map[string]string `json:"metadata"`
}

// ResourceID returns the resource the job is bound to.
func (j Job) ResourceID() string { return j.Metadata[MetadataInstanceID] }

func (j Job) Trigger() Trigger { return Trigger{Minute: j.Minute, Hour: j.Hour} }

// JobStore is the narrow view of the scheduler service used here.
// Implementations return *Error values (ExternalServiceError, NotFound).
type JobStore interface {
	// ListJobs returns the jobs whose metadata instance_id equals resourceID.
	ListJobs(ctx context.Context, resourceID string) ([]Job, error)
	CreateJob(ctx context.Context, job Job) (Job, error)
	UpdateJob(ctx context.Context, job Job) (Job, error)
	// DeleteJob returns a NotFound *Error for unknown ids.
	DeleteJob(ctx context.Context, jobID string) error
}

// MetadataStore is the narrow view of the resource registry used here.
// Unknown resources are reported as registry.ErrNotFound.
type MetadataStore interface {
	Metadata(ctx context.Context, id string) (registry.Metadata, error)
	UpdateMetadata(ctx context.Context, id string, md registry.Metadata, replace bool) (registry.Metadata, error)
	DeleteMetadata(ctx context.Context, id, key string) error
}

// SettingFrom reads the retention from a metadata bag.
// ok is false when the key is absent; err is set when the stored value is
// not a positive integer.
func SettingFrom(md registry.Metadata) (retention int, ok bool, err error) {
	raw, ok := md[SettingKey]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, true, Internal("", "stored retention "+strconv.Quote(raw)+" is not a positive integer", err)
	}
	return n, true, nil
}

// WithSetting returns a copy of md with the retention set.
func WithSetting(md registry.Metadata, retention int) registry.Metadata {
	out := md.Clone()
	out[SettingKey] = strconv.Itoa(retention)
	return out
}

// WithoutSetting returns a copy of md without the schedule key.
func WithoutSetting(md registry.Metadata) registry.Metadata {
	out := md.Clone()
	delete(out, SettingKey)
	return out
}

type tenantKey struct{}

// ContextWithTenant attaches the caller's tenant, copied into new jobs.
func ContextWithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

func TenantFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}
