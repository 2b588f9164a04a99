// Package jobs implements §4.D Job Manager: a single dispatcher that
// owns all Job state plus a bounded pool of worker goroutines consuming
// individual test tasks from a FIFO queue. Grounded on
// pkg/queue/pool.go's WorkerPool (Start/Stop/Health, one goroutine per
// worker, graceful drain on Stop) — re-pointed at an in-memory task
// channel instead of a Postgres `FOR UPDATE SKIP LOCKED` claim, since
// this core has no cross-process coordination requirement (§5).
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// Discovery is the subset of pkg/discovery.Scanner the dispatcher needs:
// a snapshot of known tests, and a hot-reload hook run before the first
// task of each job per §4.D ("Hot reload").
type Discovery interface {
	ListTests(ctx context.Context) (descriptors []model.TestDescriptor, errText string)
	Reload(ctx context.Context) error
}

// Runner executes one test and returns its result. pipeline.Runner
// satisfies this.
type Runner interface {
	Run(ctx context.Context, desc model.TestDescriptor) model.TestResult
}

// Publisher is the event-bus seam the dispatcher uses to announce job
// state, matching §4.E's publishSnapshot/publishDelta operations.
type Publisher interface {
	PublishSnapshot(jobs []model.Job)
	PublishDelta(job model.Job)
}

// task is one test execution enqueued against a job.
type task struct {
	jobID      string
	descriptor model.TestDescriptor
	firstInJob bool
}

// Manager is the Job Manager's single dispatcher plus its worker pool.
//
// All job-state mutation happens on the goroutine holding mu; workers
// report results back through transitionRunning/complete rather than touching
// jobs directly, keeping the dispatcher the sole writer per §5.
type Manager struct {
	discovery Discovery
	runner    Runner
	publisher Publisher

	workerCount int
	tasks       chan task

	mu    sync.Mutex
	jobs  map[string]*model.Job
	order []string // insertion order, oldest first

	workers []*Worker
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewManager builds a dispatcher with workerCount parallel executors.
func NewManager(discovery Discovery, runner Runner, publisher Publisher, workerCount int) *Manager {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Manager{
		discovery:   discovery,
		runner:      runner,
		publisher:   publisher,
		workerCount: workerCount,
		tasks:       make(chan task, 4096),
		jobs:        make(map[string]*model.Job),
	}
}

// Start spawns the worker goroutines. Safe to call once; a second call
// is a no-op.
func (m *Manager) Start(ctx context.Context) {
	if m.group != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	m.group = group

	for i := 0; i < m.workerCount; i++ {
		w := NewWorker(fmt.Sprintf("worker-%d", i), m)
		m.workers = append(m.workers, w)
		group.Go(func() error {
			w.run(groupCtx)
			return nil
		})
	}
	slog.Info("job manager started", "workers", m.workerCount)
}

// Stop drains in-flight tasks and waits for every worker to exit. New
// tasks already queued still run to completion per §4.D's
// "once a task starts it runs to completion."
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	close(m.tasks)
	_ = m.group.Wait()
	slog.Info("job manager stopped")
}

// CreateJob enqueues tests (or, if empty, the full discovery snapshot)
// as a new Job and returns it immediately in status=queued.
func (m *Manager) CreateJob(ctx context.Context, tests []string) (*model.Job, error) {
	snapshot, errText := m.discovery.ListTests(ctx)
	if errText != "" && len(tests) == 0 {
		slog.Warn("discovery reported errors during job creation", "error", errText)
	}

	byName := make(map[string]model.TestDescriptor, len(snapshot))
	for _, d := range snapshot {
		byName[d.QualifiedName] = d
	}

	var selected []model.TestDescriptor
	if len(tests) == 0 {
		selected = snapshot
	} else {
		var unknown []string
		for _, name := range tests {
			if d, ok := byName[name]; ok {
				selected = append(selected, d)
			} else {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			job := m.newFailedJob(fmt.Sprintf("unknown test(s): %v", unknown))
			m.store(job)
			return job, nil
		}
	}

	job := &model.Job{
		ID:           uuid.NewString(),
		Status:       model.JobQueued,
		Tests:        namesOf(selected),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		TestStatuses: make(map[string]model.TestStatus, len(selected)),
	}
	for _, d := range selected {
		job.TestStatuses[d.QualifiedName] = model.TestQueued
	}
	m.store(job)

	for i, d := range selected {
		select {
		case m.tasks <- task{jobID: job.ID, descriptor: d, firstInJob: i == 0}:
		case <-ctx.Done():
			return job, ctx.Err()
		}
	}
	return job, nil
}

func (m *Manager) newFailedJob(errText string) *model.Job {
	return &model.Job{
		ID:        uuid.NewString(),
		Status:    model.JobFailed,
		ErrorText: errText,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (m *Manager) store(job *model.Job) {
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	snapshot := m.cloneJob(job)
	m.mu.Unlock()
	m.publisher.PublishDelta(*snapshot)
}

// ListJobs returns every job, most recent first.
func (m *Manager) ListJobs() []model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, *m.jobs[m.order[i]].Clone())
	}
	return out
}

// GetJob returns one job by id.
func (m *Manager) GetJob(id string) (model.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *job.Clone(), true
}

// Snapshot returns every job for delivery to a newly-subscribed client.
func (m *Manager) Snapshot() []model.Job {
	return m.ListJobs()
}

func (m *Manager) cloneJob(job *model.Job) *model.Job {
	return job.Clone()
}

// transitionRunning marks one test of a job as running and republishes
// the job delta.
func (m *Manager) transitionRunning(jobID, qualifiedName string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.TestStatuses[qualifiedName] = model.TestRunning
	job.Status = model.JobRunning
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	m.mu.Unlock()
	m.publisher.PublishDelta(*snapshot)
}

// complete records a terminal TestResult and re-derives the job's
// aggregate status per §3's invariant: a job succeeds only once every
// test has a terminal status and none failed.
func (m *Manager) complete(jobID string, result model.TestResult) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if result.Passed {
		job.TestStatuses[result.QualifiedName] = model.TestPassed
	} else {
		job.TestStatuses[result.QualifiedName] = model.TestFailed
	}
	job.Results = append(job.Results, result)
	job.Status = deriveJobStatus(job.TestStatuses)
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	m.mu.Unlock()
	m.publisher.PublishDelta(*snapshot)
}

func deriveJobStatus(statuses map[string]model.TestStatus) model.JobStatus {
	sawRunning := false
	sawFailed := false
	allTerminal := true
	for _, s := range statuses {
		switch s {
		case model.TestQueued:
			allTerminal = false
		case model.TestRunning:
			allTerminal = false
			sawRunning = true
		case model.TestFailed:
			sawFailed = true
		}
	}
	switch {
	case allTerminal && sawFailed:
		return model.JobFailed
	case allTerminal:
		return model.JobSucceeded
	case sawRunning:
		return model.JobRunning
	default:
		return model.JobQueued
	}
}

func namesOf(descs []model.TestDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.QualifiedName
	}
	return out
}

// Health reports dispatcher and per-worker status, composed into the
// /health endpoint's response.
type Health struct {
	Healthy       bool           `json:"healthy"`
	TotalWorkers  int            `json:"totalWorkers"`
	ActiveWorkers int            `json:"activeWorkers"`
	QueueDepth    int            `json:"queueDepth"`
	WorkerStats   []WorkerHealth `json:"workerStats"`
}

// WorkerHealth is one worker's point-in-time status.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CurrentTest    string    `json:"currentTest,omitempty"`
	TestsProcessed int       `json:"testsProcessed"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Health returns a snapshot of the pool's health.
func (m *Manager) Health() Health {
	stats := make([]WorkerHealth, len(m.workers))
	active := 0
	for i, w := range m.workers {
		stats[i] = w.health()
		if stats[i].Status == string(WorkerStatusWorking) {
			active++
		}
	}
	return Health{
		Healthy:       len(m.workers) > 0,
		TotalWorkers:  len(m.workers),
		ActiveWorkers: active,
		QueueDepth:    len(m.tasks),
		WorkerStats:   stats,
	}
}
