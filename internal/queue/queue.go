// Package queue implements the per-guild playback queue: a bounded,
// priority-ordered, TTL-bound buffer of synthesised clips waiting for the
// playback driver.
//
// Ordering is stable priority insertion: a new item is placed after the last
// queued item whose priority is less than or equal to its own, so lower
// priority values play first and equal priorities keep arrival order.
// Expiry is lazy; stale items are dropped at dequeue time, never by a
// background sweeper.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cantor-bot/cantor/internal/observe"
)

// ErrQueueFull is returned by Enqueue when the guild's queue is at capacity.
var ErrQueueFull = errors.New("playback queue is full")

const (
	defaultMaxSize = 100
	defaultTTL     = 5 * time.Minute
)

// Item is one queued clip.
type Item struct {
	Audio      []byte
	Text       string
	Priority   int
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

// expired reports whether the item's TTL has elapsed at now.
func (it *Item) expired(now time.Time) bool {
	return !it.ExpiresAt.After(now)
}

// Stats is a point-in-time snapshot of one guild's queue.
type Stats struct {
	Size       int
	MaxSize    int
	Oldest     time.Time
	Newest     time.Time
	Priorities map[int]int
}

// tenantQueue is one guild's buffer. Its mutex keeps guilds independent.
type tenantQueue struct {
	mu    sync.Mutex
	items []*Item
}

// Queue is the per-guild playback queue registry. Guild queues are created
// lazily on first enqueue. Safe for concurrent use.
type Queue struct {
	maxSize int
	ttl     time.Duration
	metrics *observe.Metrics

	regMu   sync.Mutex
	tenants map[string]*tenantQueue
}

// Config holds Queue tunables. Non-positive values fall back to 100 items
// and a five minute TTL; a nil Metrics falls back to [observe.DefaultMetrics].
type Config struct {
	MaxSize int
	TTL     time.Duration
	Metrics *observe.Metrics
}

// New creates a Queue.
func New(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Queue{
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		metrics: cfg.Metrics,
		tenants: make(map[string]*tenantQueue),
	}
}

// tenant returns the guild's queue, creating it on first use.
func (q *Queue) tenant(guildID string) *tenantQueue {
	q.regMu.Lock()
	defer q.regMu.Unlock()
	t, ok := q.tenants[guildID]
	if !ok {
		t = &tenantQueue{}
		q.tenants[guildID] = t
	}
	return t
}

// lookup returns the guild's queue without creating one.
func (q *Queue) lookup(guildID string) (*tenantQueue, bool) {
	q.regMu.Lock()
	defer q.regMu.Unlock()
	t, ok := q.tenants[guildID]
	return t, ok
}

// Guilds returns the IDs of every guild that currently holds a queue,
// including empty ones that have not been evicted yet.
func (q *Queue) Guilds() []string {
	q.regMu.Lock()
	defer q.regMu.Unlock()
	ids := make([]string, 0, len(q.tenants))
	for id := range q.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Enqueue adds a clip to the guild's queue. Lower priority values are served
// first; equal priorities keep arrival order. Returns [ErrQueueFull] at
// capacity.
func (q *Queue) Enqueue(ctx context.Context, guildID string, audio []byte, text string, priority int) error {
	t := q.tenant(guildID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.items) >= q.maxSize {
		return fmt.Errorf("%w: guild %s at %d items", ErrQueueFull, guildID, len(t.items))
	}

	now := time.Now()
	item := &Item{
		Audio:      audio,
		Text:       text,
		Priority:   priority,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(q.ttl),
	}

	// Insert after the last item with priority <= the new item's, keeping
	// equal priorities in arrival order.
	pos := len(t.items)
	for pos > 0 && t.items[pos-1].Priority > priority {
		pos--
	}
	t.items = append(t.items, nil)
	copy(t.items[pos+1:], t.items[pos:])
	t.items[pos] = item

	q.metrics.QueueDepth.Add(ctx, 1)
	return nil
}

// Dequeue removes and returns the guild's next clip, discarding any expired
// items first. Returns (nil, nil) when the queue is empty or absent.
func (q *Queue) Dequeue(ctx context.Context, guildID string) (*Item, error) {
	t, ok := q.lookup(guildID)
	if !ok {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	kept := t.items[:0]
	dropped := 0
	for _, it := range t.items {
		if it.expired(now) {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	t.items = kept
	if dropped > 0 {
		q.metrics.QueueDepth.Add(ctx, int64(-dropped))
	}

	if len(t.items) == 0 {
		return nil, nil
	}
	item := t.items[0]
	copy(t.items, t.items[1:])
	t.items[len(t.items)-1] = nil
	t.items = t.items[:len(t.items)-1]
	q.metrics.QueueDepth.Add(ctx, -1)
	return item, nil
}

// Size reports the guild's current queue length, expired items included.
func (q *Queue) Size(guildID string) int {
	t, ok := q.lookup(guildID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Clear discards all queued clips for the guild, keeping the queue itself.
func (q *Queue) Clear(ctx context.Context, guildID string) {
	t, ok := q.lookup(guildID)
	if !ok {
		return
	}
	t.mu.Lock()
	n := len(t.items)
	t.items = nil
	t.mu.Unlock()
	if n > 0 {
		q.metrics.QueueDepth.Add(ctx, int64(-n))
	}
}

// Remove evicts a departed guild: its queue and contents are deleted.
func (q *Queue) Remove(ctx context.Context, guildID string) {
	q.regMu.Lock()
	t, ok := q.tenants[guildID]
	delete(q.tenants, guildID)
	q.regMu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	n := len(t.items)
	t.items = nil
	t.mu.Unlock()
	if n > 0 {
		q.metrics.QueueDepth.Add(ctx, int64(-n))
	}
}

// Status returns a snapshot of the guild's queue: length, enqueue-time range
// and how many items sit at each priority.
func (q *Queue) Status(guildID string) Stats {
	st := Stats{MaxSize: q.maxSize, Priorities: make(map[int]int)}
	t, ok := q.lookup(guildID)
	if !ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st.Size = len(t.items)
	for i, it := range t.items {
		if i == 0 || it.EnqueuedAt.Before(st.Oldest) {
			st.Oldest = it.EnqueuedAt
		}
		if it.EnqueuedAt.After(st.Newest) {
			st.Newest = it.EnqueuedAt
		}
		st.Priorities[it.Priority]++
	}
	return st
}
