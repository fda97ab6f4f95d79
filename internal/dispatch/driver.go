// Package dispatch drives playback: it drains each guild's queue into the
// guild's voice connection, one clip at a time.
//
// Each guild has at most one pump loop in flight. Pump is cheap to call
// redundantly; enqueue paths call it after every insert and the running loop
// simply absorbs the new work. Guilds pump independently and concurrently.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cantor-bot/cantor/internal/observe"
	"github.com/cantor-bot/cantor/internal/queue"
	"github.com/cantor-bot/cantor/internal/voice"
)

// Driver pumps queued clips into voice connections. Safe for concurrent use.
type Driver struct {
	queue   *queue.Queue
	voices  *voice.Manager
	metrics *observe.Metrics

	mu     sync.Mutex
	active map[string]bool
}

// NewDriver creates a Driver. A nil Metrics falls back to
// [observe.DefaultMetrics].
func NewDriver(q *queue.Queue, voices *voice.Manager, metrics *observe.Metrics) *Driver {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Driver{
		queue:   q,
		voices:  voices,
		metrics: metrics,
		active:  make(map[string]bool),
	}
}

// Pump starts draining the guild's queue in the background. When a pump loop
// for the guild is already in flight the call is a no-op.
func (d *Driver) Pump(ctx context.Context, guildID string) {
	d.mu.Lock()
	if d.active[guildID] {
		d.mu.Unlock()
		return
	}
	d.active[guildID] = true
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.active, guildID)
			d.mu.Unlock()
		}()
		d.drain(ctx, guildID)
	}()
}

// IsPumping reports whether the guild currently has a pump loop in flight.
func (d *Driver) IsPumping(guildID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[guildID]
}

// drain plays clips until the queue runs empty, the connection disappears or
// ctx is cancelled. Playback errors are logged and counted, never fatal: one
// bad clip must not strand the rest of the queue.
func (d *Driver) drain(ctx context.Context, guildID string) {
	for {
		if ctx.Err() != nil {
			return
		}

		item, err := d.queue.Dequeue(ctx, guildID)
		if err != nil {
			slog.Error("dequeue failed", "guild_id", guildID, "error", err)
			return
		}
		if item == nil {
			return
		}

		conn, err := d.voices.Connection(guildID)
		if err != nil {
			slog.Warn("dropping queued clip, no voice connection",
				"guild_id", guildID,
				"text_length", len(item.Text),
			)
			d.metrics.RecordError(ctx, "playback")
			return
		}

		done := make(chan error, 1)
		start := time.Now()
		if err := conn.Play(item.Audio, func(playErr error) { done <- playErr }); err != nil {
			slog.Warn("playback start failed", "guild_id", guildID, "error", err)
			d.metrics.RecordError(ctx, "playback")
			continue
		}

		select {
		case playErr := <-done:
			d.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
			if playErr != nil {
				slog.Warn("playback failed", "guild_id", guildID, "error", playErr)
				d.metrics.RecordError(ctx, "playback")
			}
		case <-ctx.Done():
			_ = conn.Stop()
			<-done
			return
		}
	}
}
