package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"snapsched/internal/registry"
)

// fakeJobs is an in-memory JobStore with error injection.
type fakeJobs struct {
	mu     sync.Mutex
	seq    int
	jobs   map[string]Job
	calls  map[string]int
	failOn map[string]error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]Job{}, calls: map[string]int{}, failOn: map[string]error{}}
}

func (f *fakeJobs) hit(op string) error {
	f.calls[op]++
	return f.failOn[op]
}

func (f *fakeJobs) ListJobs(ctx context.Context, resourceID string) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("list"); err != nil {
		return nil, err
	}
	var out []Job
	for _, j := range f.jobs {
		if j.ResourceID() == resourceID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (f *fakeJobs) CreateJob(ctx context.Context, job Job) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("create"); err != nil {
		return Job{}, err
	}
	f.seq++
	job.ID = fmt.Sprintf("job-%03d", f.seq)
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) UpdateJob(ctx context.Context, job Job) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("update"); err != nil {
		return Job{}, err
	}
	if _, ok := f.jobs[job.ID]; !ok {
		return Job{}, NotFound("", "job "+job.ID)
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) DeleteJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("delete"); err != nil {
		return err
	}
	if _, ok := f.jobs[id]; !ok {
		return NotFound("", "job "+id)
	}
	delete(f.jobs, id)
	return nil
}

// seed inserts a job directly, bypassing call counters.
func (f *fakeJobs) seed(resourceID string, minute, hour int) Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	j := Job{
		ID:       fmt.Sprintf("job-%03d", f.seq),
		Action:   ActionSnapshot,
		Minute:   minute,
		Hour:     hour,
		Metadata: map[string]string{MetadataInstanceID: resourceID},
	}
	f.jobs[j.ID] = j
	return j
}

func (f *fakeJobs) forResource(resourceID string) []Job {
	jobs, _ := f.ListJobs(context.Background(), resourceID)
	return jobs
}

type fixture struct {
	jobs *fakeJobs
	reg  registry.Store
	rec  *Reconciler
	flt  *Filter
}

func newFixture(t *testing.T, opt Options, resources ...registry.Resource) *fixture {
	t.Helper()
	reg := registry.NewMemory()
	for _, r := range resources {
		require.NoError(t, reg.Put(context.Background(), r))
	}
	jobs := newFakeJobs()
	if opt.Rand == nil {
		opt.Rand = rand.New(rand.NewSource(1))
	}
	return &fixture{
		jobs: jobs,
		reg:  reg,
		rec:  NewReconciler(jobs, reg, opt),
		flt:  NewFilter(reg, jobs, opt.Log),
	}
}

func (fx *fixture) metadata(t *testing.T, id string) registry.Metadata {
	t.Helper()
	md, err := fx.reg.Metadata(context.Background(), id)
	require.NoError(t, err)
	return md
}
