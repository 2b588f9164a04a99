package jobs

import (
	"context"
	"sync"
	"time"
)

// WorkerStatus is a worker's point-in-time activity state.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker consumes test tasks from the dispatcher's shared channel and
// runs them through the execution pipeline. Follows a poll-loop and
// health-tracking-fields shape, with a channel receive standing in for a
// claim-next-row step against a durable queue.
type Worker struct {
	id      string
	manager *Manager

	mu             sync.RWMutex
	status         WorkerStatus
	currentTest    string
	testsProcessed int
	lastActivity   time.Time
}

// NewWorker builds a worker bound to manager's task channel.
func NewWorker(id string, manager *Manager) *Worker {
	return &Worker{id: id, manager: manager, status: WorkerStatusIdle, lastActivity: time.Now()}
}

// run consumes tasks until the channel closes or ctx is cancelled.
func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-w.manager.tasks:
			if !ok {
				return
			}
			w.process(ctx, t)
		}
	}
}

// process runs one task: an optional hot reload, the running
// transition, the pipeline, then the terminal transition.
func (w *Worker) process(ctx context.Context, t task) {
	if t.firstInJob {
		if err := w.manager.discovery.Reload(ctx); err != nil {
			// Reload failures don't block execution — the test still runs
			// against whatever source was last successfully loaded.
			_ = err
		}
	}

	w.setStatus(WorkerStatusWorking, t.descriptor.QualifiedName)
	defer w.setStatus(WorkerStatusIdle, "")

	w.manager.transitionRunning(t.jobID, t.descriptor.QualifiedName)
	result := w.manager.runner.Run(ctx, t.descriptor)
	w.manager.complete(t.jobID, result)

	w.mu.Lock()
	w.testsProcessed++
	w.mu.Unlock()
}

func (w *Worker) setStatus(status WorkerStatus, currentTest string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTest = currentTest
	w.lastActivity = time.Now()
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTest:    w.currentTest,
		TestsProcessed: w.testsProcessed,
		LastActivity:   w.lastActivity,
	}
}
