package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riverbend-labs/agentcheck/pkg/model"
)

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Envelope{}
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := bus.Subscribe(ctx, []model.Job{{ID: "job-1"}})
	defer unsub()

	env := recv(t, ch)
	require.Equal(t, EventSnapshot, env.Type)
	require.Len(t, env.Jobs, 1)
	require.Equal(t, "job-1", env.Jobs[0].ID)
}

func TestPublishDeltaDeliveredAfterSnapshot(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := bus.Subscribe(ctx, nil)
	defer unsub()

	_ = recv(t, ch) // snapshot
	bus.PublishDelta(model.Job{ID: "job-2", Status: model.JobRunning})

	env := recv(t, ch)
	require.Equal(t, EventJobDelta, env.Type)
	require.Equal(t, "job-2", env.Job.ID)
	require.Equal(t, model.JobRunning, env.Job.Status)
}

func TestSlowSubscriberCoalescesDeltasPerJob(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := bus.Subscribe(ctx, nil)
	defer unsub()
	_ = recv(t, ch) // snapshot

	// Fill the subscriber's channel (plus the one envelope its goroutine
	// holds while blocked) so it falls behind, then publish three updates
	// for the same job before the subscriber reads any of them; only the
	// latest should ever be delivered.
	for i := 0; i <= subscriberBuffer; i++ {
		bus.PublishDelta(model.Job{ID: fmt.Sprintf("filler-%d", i)})
	}
	bus.PublishDelta(model.Job{ID: "job-3", Status: model.JobQueued})
	bus.PublishDelta(model.Job{ID: "job-3", Status: model.JobRunning})
	bus.PublishDelta(model.Job{ID: "job-3", Status: model.JobSucceeded})

	for i := 0; i <= subscriberBuffer; i++ {
		_ = recv(t, ch) // filler
	}
	env := recv(t, ch)
	require.Equal(t, EventJobDelta, env.Type)
	require.Equal(t, model.JobSucceeded, env.Job.Status)

	select {
	case extra := <-ch:
		t.Fatalf("expected coalesced single delta, got extra event %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, unsub := bus.Subscribe(ctx, nil)
	unsub()
	unsub()
}

func TestPublishSnapshotResyncsSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := bus.Subscribe(ctx, nil)
	defer unsub()
	_ = recv(t, ch)

	bus.PublishSnapshot([]model.Job{{ID: "job-4"}})
	env := recv(t, ch)
	require.Equal(t, EventSnapshot, env.Type)
	require.Len(t, env.Jobs, 1)
}
