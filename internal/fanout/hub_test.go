package fanout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fleetbridge/backend/internal/models"
)

type fakeReplayer struct {
	entries map[uint][]models.JobLogEntry
}

func (f *fakeReplayer) LogsSince(jobID uint, since int64) ([]models.JobLogEntry, error) {
	var out []models.JobLogEntry
	for _, e := range f.entries[jobID] {
		if e.Sequence > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func entry(jobID uint, seq int64) models.JobLogEntry {
	return models.JobLogEntry{
		JobID:    jobID,
		Sequence: seq,
		Level:    models.LogLevelInfo,
		Message:  fmt.Sprintf("entry %d", seq),
	}
}

func collect(t *testing.T, ch <-chan models.JobLogEntry, n int) []models.JobLogEntry {
	t.Helper()
	out := make([]models.JobLogEntry, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed after %d of %d entries", len(out), n)
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d entries", len(out), n)
		}
	}
	return out
}

func TestSubscribeReplaysThenFollowsLive(t *testing.T) {
	replayer := &fakeReplayer{entries: map[uint][]models.JobLogEntry{
		1: {entry(1, 1), entry(1, 2), entry(1, 3)},
	}}
	hub := NewHub(replayer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	hub.Publish(1, entry(1, 4))

	got := collect(t, stream, 4)
	for i, e := range got {
		if e.Sequence != int64(i+1) {
			t.Fatalf("entry %d has sequence %d, expected %d", i, e.Sequence, i+1)
		}
	}
}

func TestSubscribeSeamHasNoDuplicates(t *testing.T) {
	replayer := &fakeReplayer{entries: map[uint][]models.JobLogEntry{
		1: {entry(1, 1), entry(1, 2)},
	}}
	hub := NewHub(replayer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	// Entry 2 arrives live as well, as happens when a publish lands between
	// live registration and the replay query. It must be filtered.
	hub.Publish(1, entry(1, 2))
	hub.Publish(1, entry(1, 3))

	got := collect(t, stream, 3)
	seen := make(map[int64]int)
	for _, e := range got {
		seen[e.Sequence]++
	}
	for seq, n := range seen {
		if n != 1 {
			t.Errorf("sequence %d delivered %d times", seq, n)
		}
	}
	if seen[1] != 1 || seen[2] != 1 || seen[3] != 1 {
		t.Errorf("expected sequences 1..3 exactly once, got %v", seen)
	}
}

func TestMultipleSubscribersAreIndependent(t *testing.T) {
	replayer := &fakeReplayer{entries: map[uint][]models.JobLogEntry{}}
	hub := NewHub(replayer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cancelA, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe a failed: %v", err)
	}
	defer cancelA()
	b, cancelB, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe b failed: %v", err)
	}

	hub.Publish(1, entry(1, 1))
	collect(t, a, 1)
	collect(t, b, 1)

	// Dropping b must not affect a.
	cancelB()
	hub.Publish(1, entry(1, 2))
	got := collect(t, a, 1)
	if got[0].Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", got[0].Sequence)
	}
}

func TestSubscribersAreJobScoped(t *testing.T) {
	replayer := &fakeReplayer{entries: map[uint][]models.JobLogEntry{}}
	hub := NewHub(replayer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	hub.Publish(2, entry(2, 1))
	hub.Publish(1, entry(1, 1))

	got := collect(t, stream, 1)
	if got[0].JobID != 1 {
		t.Errorf("received entry for job %d", got[0].JobID)
	}
}

func TestSlowSubscriberIsDetached(t *testing.T) {
	replayer := &fakeReplayer{entries: map[uint][]models.JobLogEntry{}}
	hub := NewHub(replayer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe, err := hub.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	// Never drain. Overflow both the forwarding goroutine's input buffer and
	// the output channel; publishing must stay non-blocking throughout.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 3*subscriberBuffer; i++ {
			hub.Publish(1, entry(1, int64(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	// The detached stream ends once its buffers drain.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("expected detached subscriber's stream to close")
		}
	}
}
