// Package events implements the Event Bus: broadcasting Job state
// changes to any number of subscribers with bounded per-subscriber
// memory. Follows a connection/channel bookkeeping shape and a "never
// drop the catchup, coalesce or resync instead" spirit, adapted from
// cross-pod Postgres LISTEN/NOTIFY fan-out to a purely in-process,
// process-local subscriber registry.
package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// EventType distinguishes a full resync from an incremental delta.
type EventType string

// Event types delivered to subscribers.
const (
	EventSnapshot EventType = "snapshot"
	EventJobDelta EventType = "job"
)

// Envelope is one message delivered to a subscriber channel.
type Envelope struct {
	Type EventType   `json:"type"`
	Jobs []model.Job `json:"jobs,omitempty"`
	Job  *model.Job  `json:"job,omitempty"`
}

// subscriberBuffer bounds per-subscriber memory per §5's backpressure
// requirement.
const subscriberBuffer = 64

// Bus fans Job state changes out to subscribers, coalescing pending
// deltas per job id for any subscriber that falls behind so a slow
// reader never blocks the dispatcher or other subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber and immediately enqueues a
// snapshot of jobs, the current state at subscription time, ahead of
// any delta. The returned cancel func unsubscribes; it is idempotent.
func (b *Bus) Subscribe(ctx context.Context, jobs []model.Job) (<-chan Envelope, func()) {
	sub := newSubscriber()
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	sub.enqueueSnapshot(jobs)
	go sub.run(ctx)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// PublishSnapshot forces every current subscriber to resync with jobs,
// discarding any deltas still pending for them.
func (b *Bus) PublishSnapshot(jobs []model.Job) {
	for _, s := range b.snapshot() {
		s.enqueueSnapshot(jobs)
	}
}

// PublishDelta announces one job's new state to every subscriber.
func (b *Bus) PublishDelta(job model.Job) {
	for _, s := range b.snapshot() {
		s.enqueueDelta(job)
	}
}

func (b *Bus) snapshot() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

// subscriber buffers a coalesced view of pending events for one
// listener: at most one pending snapshot (which supersedes everything
// queued before it) plus at most one pending delta per job id.
type subscriber struct {
	ch   chan Envelope
	wake chan struct{}

	mu              sync.Mutex
	pendingSnapshot []model.Job
	hasSnapshot     bool
	pendingDeltas   map[string]model.Job
	order           []string
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch:            make(chan Envelope, subscriberBuffer),
		wake:          make(chan struct{}, 1),
		pendingDeltas: make(map[string]model.Job),
	}
}

func (s *subscriber) enqueueSnapshot(jobs []model.Job) {
	s.mu.Lock()
	s.pendingSnapshot = jobs
	s.hasSnapshot = true
	s.pendingDeltas = make(map[string]model.Job)
	s.order = nil
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) enqueueDelta(job model.Job) {
	s.mu.Lock()
	if _, exists := s.pendingDeltas[job.ID]; !exists {
		s.order = append(s.order, job.ID)
	}
	s.pendingDeltas[job.ID] = job
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run drains pending state onto ch until ctx is cancelled. A snapshot
// always takes priority over queued deltas, matching "the initial
// snapshot is never dropped."
func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			env, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.ch <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *subscriber) next() (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasSnapshot {
		env := Envelope{Type: EventSnapshot, Jobs: s.pendingSnapshot}
		s.hasSnapshot = false
		s.pendingSnapshot = nil
		return env, true
	}
	if len(s.order) == 0 {
		return Envelope{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	job := s.pendingDeltas[id]
	delete(s.pendingDeltas, id)
	return Envelope{Type: EventJobDelta, Job: &job}, true
}
