package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

type fakeDiscovery struct {
	descs       []model.TestDescriptor
	reloadCalls int
	mu          sync.Mutex
}

func (f *fakeDiscovery) ListTests(context.Context) ([]model.TestDescriptor, string) {
	return f.descs, ""
}

func (f *fakeDiscovery) Reload(context.Context) error {
	f.mu.Lock()
	f.reloadCalls++
	f.mu.Unlock()
	return nil
}

type fakeRunner struct {
	fail map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, desc model.TestDescriptor) model.TestResult {
	passed := !f.fail[desc.QualifiedName]
	result := model.TestResult{QualifiedName: desc.QualifiedName, Module: desc.Module, Name: desc.Name, Passed: passed}
	if !passed {
		result.ErrorType = model.ErrorTypeUnexpected
		result.ErrorText = "boom"
	}
	return result
}

type fakePublisher struct {
	mu      sync.Mutex
	deltas  []model.Job
}

func (f *fakePublisher) PublishSnapshot([]model.Job) {}

func (f *fakePublisher) PublishDelta(job model.Job) {
	f.mu.Lock()
	f.deltas = append(f.deltas, job)
	f.mu.Unlock()
}

func waitForStatus(t *testing.T, m *Manager, jobID string, want model.JobStatus) model.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := m.GetJob(jobID)
		if ok && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return model.Job{}
}

func TestManagerCreateJobRunsToSuccess(t *testing.T) {
	disc := &fakeDiscovery{descs: []model.TestDescriptor{
		{QualifiedName: "test_a::test_one", Module: "test_a", Name: "test_one"},
		{QualifiedName: "test_a::test_two", Module: "test_a", Name: "test_two"},
	}}
	pub := &fakePublisher{}
	m := NewManager(disc, &fakeRunner{}, pub, 2)
	m.Start(context.Background())
	defer m.Stop()

	job, err := m.CreateJob(context.Background(), nil)
	require.NoError(t, err)

	final := waitForStatus(t, m, job.ID, model.JobSucceeded)
	require.Len(t, final.Results, 2)
	disc.mu.Lock()
	require.Equal(t, 1, disc.reloadCalls)
	disc.mu.Unlock()
}

func TestManagerJobFailsWhenATestFails(t *testing.T) {
	disc := &fakeDiscovery{descs: []model.TestDescriptor{
		{QualifiedName: "test_a::test_one", Module: "test_a", Name: "test_one"},
	}}
	runner := &fakeRunner{fail: map[string]bool{"test_a::test_one": true}}
	m := NewManager(disc, runner, &fakePublisher{}, 1)
	m.Start(context.Background())
	defer m.Stop()

	job, err := m.CreateJob(context.Background(), nil)
	require.NoError(t, err)

	final := waitForStatus(t, m, job.ID, model.JobFailed)
	require.False(t, final.Results[0].Passed)
}

func TestManagerUnknownTestNameFailsJobImmediately(t *testing.T) {
	disc := &fakeDiscovery{descs: []model.TestDescriptor{{QualifiedName: "test_a::test_one"}}}
	m := NewManager(disc, &fakeRunner{}, &fakePublisher{}, 1)
	m.Start(context.Background())
	defer m.Stop()

	job, err := m.CreateJob(context.Background(), []string{"test_a::test_missing"})
	require.NoError(t, err)
	require.Equal(t, model.JobFailed, job.Status)
	require.Contains(t, job.ErrorText, "unknown test")
}

func TestManagerListJobsMostRecentFirst(t *testing.T) {
	disc := &fakeDiscovery{}
	m := NewManager(disc, &fakeRunner{}, &fakePublisher{}, 1)
	m.Start(context.Background())
	defer m.Stop()

	first, err := m.CreateJob(context.Background(), nil)
	require.NoError(t, err)
	second, err := m.CreateJob(context.Background(), nil)
	require.NoError(t, err)

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	require.Equal(t, second.ID, jobs[0].ID)
	require.Equal(t, first.ID, jobs[1].ID)
}
