package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func enqueue(t *testing.T, q *Queue, guildID, text string, priority int) {
	t.Helper()
	if err := q.Enqueue(context.Background(), guildID, []byte(text), text, priority); err != nil {
		t.Fatalf("Enqueue(%q, prio %d) error = %v", text, priority, err)
	}
}

func dequeueText(t *testing.T, q *Queue, guildID string) string {
	t.Helper()
	it, err := q.Dequeue(context.Background(), guildID)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if it == nil {
		return ""
	}
	return it.Text
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(Config{})
	enqueue(t, q, "g", "first", 1)
	enqueue(t, q, "g", "second", 1)
	enqueue(t, q, "g", "third", 1)

	for _, want := range []string{"first", "second", "third"} {
		if got := dequeueText(t, q, "g"); got != want {
			t.Errorf("Dequeue() = %q, want %q", got, want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(Config{})
	enqueue(t, q, "g", "normal-1", 1)
	enqueue(t, q, "g", "normal-2", 1)
	enqueue(t, q, "g", "urgent", 0)
	enqueue(t, q, "g", "normal-3", 1)

	// The urgent item jumps ahead of queued normal traffic but normal items
	// keep their arrival order.
	for _, want := range []string{"urgent", "normal-1", "normal-2", "normal-3"} {
		if got := dequeueText(t, q, "g"); got != want {
			t.Errorf("Dequeue() = %q, want %q", got, want)
		}
	}
}

func TestEqualPriorityInsertsAfter(t *testing.T) {
	q := New(Config{})
	enqueue(t, q, "g", "urgent-1", 0)
	enqueue(t, q, "g", "normal", 1)
	enqueue(t, q, "g", "urgent-2", 0)

	for _, want := range []string{"urgent-1", "urgent-2", "normal"} {
		if got := dequeueText(t, q, "g"); got != want {
			t.Errorf("Dequeue() = %q, want %q", got, want)
		}
	}
}

func TestQueueFull(t *testing.T) {
	q := New(Config{MaxSize: 2})
	enqueue(t, q, "g", "a", 1)
	enqueue(t, q, "g", "b", 1)

	err := q.Enqueue(context.Background(), "g", []byte("c"), "c", 1)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() at capacity = %v, want ErrQueueFull", err)
	}
	if got := q.Size("g"); got != 2 {
		t.Errorf("Size() = %d after rejected enqueue, want 2", got)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := New(Config{})
	it, err := q.Dequeue(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if it != nil {
		t.Errorf("Dequeue() on an absent guild = %+v, want nil", it)
	}
}

func TestExpiredItemsDroppedOnDequeue(t *testing.T) {
	q := New(Config{TTL: 10 * time.Millisecond})
	enqueue(t, q, "g", "stale-1", 1)
	enqueue(t, q, "g", "stale-2", 1)
	time.Sleep(20 * time.Millisecond)
	enqueue(t, q, "g", "fresh", 1)

	if got := dequeueText(t, q, "g"); got != "fresh" {
		t.Errorf("Dequeue() = %q, want the fresh item", got)
	}
	if got := q.Size("g"); got != 0 {
		t.Errorf("Size() = %d after expiry sweep, want 0", got)
	}
}

func TestAllExpired(t *testing.T) {
	q := New(Config{TTL: 5 * time.Millisecond})
	enqueue(t, q, "g", "stale", 1)
	time.Sleep(15 * time.Millisecond)

	it, err := q.Dequeue(context.Background(), "g")
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if it != nil {
		t.Errorf("Dequeue() = %+v, want nil once everything expired", it)
	}
}

func TestGuildIsolation(t *testing.T) {
	q := New(Config{MaxSize: 1})
	enqueue(t, q, "g1", "one", 1)
	enqueue(t, q, "g2", "two", 1)

	if got := dequeueText(t, q, "g1"); got != "one" {
		t.Errorf("guild g1 Dequeue() = %q, want \"one\"", got)
	}
	if got := dequeueText(t, q, "g2"); got != "two" {
		t.Errorf("guild g2 Dequeue() = %q, want \"two\"", got)
	}
}

func TestClear(t *testing.T) {
	q := New(Config{})
	enqueue(t, q, "g", "a", 1)
	enqueue(t, q, "g", "b", 1)

	q.Clear(context.Background(), "g")
	if got := q.Size("g"); got != 0 {
		t.Errorf("Size() = %d after Clear, want 0", got)
	}
	// The queue itself survives and stays usable.
	enqueue(t, q, "g", "c", 1)
	if got := dequeueText(t, q, "g"); got != "c" {
		t.Errorf("Dequeue() after Clear = %q, want \"c\"", got)
	}
}

func TestRemoveEvictsTenant(t *testing.T) {
	q := New(Config{})
	enqueue(t, q, "g", "a", 1)

	q.Remove(context.Background(), "g")
	if got := q.Size("g"); got != 0 {
		t.Errorf("Size() = %d after Remove, want 0", got)
	}
}

func TestGuildsListsTenants(t *testing.T) {
	q := New(Config{})
	if got := q.Guilds(); len(got) != 0 {
		t.Fatalf("Guilds() = %v on a fresh queue, want empty", got)
	}

	enqueue(t, q, "g1", "a", 1)
	enqueue(t, q, "g2", "b", 1)

	got := q.Guilds()
	if len(got) != 2 {
		t.Fatalf("Guilds() = %v, want 2 entries", got)
	}

	q.Remove(context.Background(), "g1")
	if got := q.Guilds(); len(got) != 1 || got[0] != "g2" {
		t.Errorf("Guilds() after Remove = %v, want [g2]", got)
	}
}

func TestStatus(t *testing.T) {
	q := New(Config{MaxSize: 50})
	enqueue(t, q, "g", "a", 0)
	enqueue(t, q, "g", "b", 1)
	enqueue(t, q, "g", "c", 1)

	st := q.Status("g")
	if st.Size != 3 {
		t.Errorf("Status().Size = %d, want 3", st.Size)
	}
	if st.MaxSize != 50 {
		t.Errorf("Status().MaxSize = %d, want 50", st.MaxSize)
	}
	if st.Priorities[0] != 1 || st.Priorities[1] != 2 {
		t.Errorf("Status().Priorities = %v, want map[0:1 1:2]", st.Priorities)
	}
	if st.Oldest.IsZero() || st.Newest.Before(st.Oldest) {
		t.Errorf("Status() time range invalid: oldest %v newest %v", st.Oldest, st.Newest)
	}
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := New(Config{MaxSize: 1000})
	var wg sync.WaitGroup

	for g := range 4 {
		guildID := fmt.Sprintf("guild-%d", g)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 50 {
				_ = q.Enqueue(context.Background(), guildID, nil, fmt.Sprintf("msg-%d", i), i%3)
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				_, _ = q.Dequeue(context.Background(), guildID)
			}
		}()
	}
	wg.Wait()
}
