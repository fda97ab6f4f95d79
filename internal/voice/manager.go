// Package voice manages per-guild voice connections: one lazily-created
// record per guild holding the live transport connection, with a background
// health monitor that reports dead links and high latency.
//
// The manager owns connection lifecycle (join, move, cleanup, eviction) and
// delegates playback control to the underlying [transport.Conn]. The monitor
// only observes; it never tears a connection down on its own, so a transient
// platform hiccup cannot escalate into a dropped session.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cantor-bot/cantor/internal/observe"
	transport "github.com/cantor-bot/cantor/pkg/voice"
)

// ErrNoConnection is returned when a guild has no live voice connection.
var ErrNoConnection = errors.New("voice: no connection for guild")

// CleanupPolicy selects what CleanupConnection does after stopping playback.
type CleanupPolicy string

const (
	// PolicyHalt stops audio but keeps the voice session alive.
	PolicyHalt CleanupPolicy = "halt"

	// PolicyTeardown stops audio, disconnects and deletes the record.
	PolicyTeardown CleanupPolicy = "teardown"
)

// IsValid reports whether p is a known policy.
func (p CleanupPolicy) IsValid() bool {
	return p == PolicyHalt || p == PolicyTeardown
}

const (
	defaultConnectTimeout = 20 * time.Second
	defaultCheckInterval  = 30 * time.Second
	defaultErrorBackoff   = 60 * time.Second
	defaultLatencyWarn    = time.Second
)

// Config holds the dependencies of a [Manager]. Transport is required;
// Policy defaults to [PolicyTeardown] and Metrics to [observe.DefaultMetrics].
type Config struct {
	Transport transport.Transport
	Policy    CleanupPolicy
	Metrics   *observe.Metrics
}

// Option overrides a Manager tunable.
type Option func(*Manager)

// WithConnectTimeout overrides the voice-join timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// WithCheckInterval overrides the health monitor wake interval.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.checkInterval = d }
}

// WithErrorBackoff overrides the monitor interval after an unhealthy sweep.
func WithErrorBackoff(d time.Duration) Option {
	return func(m *Manager) { m.errorBackoff = d }
}

// WithLatencyWarnThreshold overrides the latency above which the monitor logs.
func WithLatencyWarnThreshold(d time.Duration) Option {
	return func(m *Manager) { m.latencyWarn = d }
}

// record is the per-guild connection state. Its mutex serialises connection
// transitions for one guild without blocking other guilds.
type record struct {
	mu              sync.Mutex
	conn            transport.Conn
	channelID       string
	lastHealthCheck time.Time
}

// Status is a point-in-time view of one guild's voice connection.
type Status struct {
	GuildID         string
	ChannelID       string
	Connected       bool
	Playing         bool
	Paused          bool
	Latency         time.Duration
	LatencyKnown    bool
	LastHealthCheck time.Time
}

// Manager tracks voice connections per guild. Safe for concurrent use.
type Manager struct {
	transport transport.Transport
	policy    CleanupPolicy
	metrics   *observe.Metrics

	connectTimeout time.Duration
	checkInterval  time.Duration
	errorBackoff   time.Duration
	latencyWarn    time.Duration

	regMu   sync.Mutex
	records map[string]*record

	monitorMu   sync.Mutex
	cancel      context.CancelFunc
	monitorDone chan struct{}
}

// NewManager creates a Manager. The health monitor is inert until
// [Manager.Start] is called.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("voice: manager requires a transport")
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyTeardown
	}
	if !cfg.Policy.IsValid() {
		return nil, fmt.Errorf("voice: unknown cleanup policy %q", cfg.Policy)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	m := &Manager{
		transport:      cfg.Transport,
		policy:         cfg.Policy,
		metrics:        cfg.Metrics,
		connectTimeout: defaultConnectTimeout,
		checkInterval:  defaultCheckInterval,
		errorBackoff:   defaultErrorBackoff,
		latencyWarn:    defaultLatencyWarn,
		records:        make(map[string]*record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// record returns the guild's record, creating it on first use.
func (m *Manager) record(guildID string) *record {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	rec, ok := m.records[guildID]
	if !ok {
		rec = &record{}
		m.records[guildID] = rec
	}
	return rec
}

// lookup returns the guild's record without creating one.
func (m *Manager) lookup(guildID string) (*record, bool) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	rec, ok := m.records[guildID]
	return rec, ok
}

// Guilds returns the IDs of every guild that currently holds a connection
// record, live or not.
func (m *Manager) Guilds() []string {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

// GetConnection returns a live connection to the requested channel. A missing
// or dead connection triggers a fresh join (bounded by the connect timeout);
// an existing connection in another channel is moved. When the move fails the
// existing connection and its record are left untouched.
func (m *Manager) GetConnection(ctx context.Context, guildID, channelID string) (transport.Conn, error) {
	rec := m.record(guildID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conn != nil && rec.conn.IsConnected() {
		if rec.channelID == channelID {
			return rec.conn, nil
		}
		if err := rec.conn.Move(ctx, channelID); err != nil {
			return nil, fmt.Errorf("voice: move guild %s to channel %s: %w", guildID, channelID, err)
		}
		rec.channelID = channelID
		slog.Info("voice connection moved", "guild_id", guildID, "channel_id", channelID)
		return rec.conn, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	conn, err := m.transport.Connect(connectCtx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("voice: connect guild %s to channel %s: %w", guildID, channelID, err)
	}

	if rec.conn == nil {
		m.metrics.ActiveConnections.Add(ctx, 1)
	}
	rec.conn = conn
	rec.channelID = channelID
	rec.lastHealthCheck = time.Now()
	slog.Info("voice connection established", "guild_id", guildID, "channel_id", channelID)
	return conn, nil
}

// CleanupConnection stops playback and applies the configured cleanup policy:
// halt keeps the session, teardown disconnects and deletes the record.
// Cleaning up a guild with no record is a no-op.
func (m *Manager) CleanupConnection(ctx context.Context, guildID string) error {
	rec, ok := m.lookup(guildID)
	if !ok {
		return nil
	}

	rec.mu.Lock()
	conn := rec.conn
	if conn != nil && conn.IsPlaying() {
		if err := conn.Stop(); err != nil {
			slog.Warn("stopping playback during cleanup", "guild_id", guildID, "error", err)
		}
	}
	var err error
	if m.policy == PolicyTeardown && conn != nil {
		err = conn.Disconnect()
		rec.conn = nil
		m.metrics.ActiveConnections.Add(ctx, -1)
	}
	rec.mu.Unlock()

	if m.policy == PolicyTeardown {
		m.regMu.Lock()
		delete(m.records, guildID)
		m.regMu.Unlock()
	}
	if err != nil {
		return fmt.Errorf("voice: disconnect guild %s: %w", guildID, err)
	}
	return nil
}

// Remove evicts a departed guild: playback is stopped, the connection torn
// down and the record deleted, regardless of the cleanup policy.
func (m *Manager) Remove(ctx context.Context, guildID string) {
	rec, ok := m.lookup(guildID)
	if !ok {
		return
	}

	rec.mu.Lock()
	if rec.conn != nil {
		if rec.conn.IsPlaying() {
			_ = rec.conn.Stop()
		}
		if err := rec.conn.Disconnect(); err != nil {
			slog.Warn("disconnect during eviction", "guild_id", guildID, "error", err)
		}
		rec.conn = nil
		m.metrics.ActiveConnections.Add(ctx, -1)
	}
	rec.mu.Unlock()

	m.regMu.Lock()
	delete(m.records, guildID)
	m.regMu.Unlock()
}

// live returns the guild's connection when one exists and is up.
func (m *Manager) live(guildID string) (transport.Conn, error) {
	rec, ok := m.lookup(guildID)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoConnection, guildID)
	}
	rec.mu.Lock()
	conn := rec.conn
	rec.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return nil, fmt.Errorf("%w %s", ErrNoConnection, guildID)
	}
	return conn, nil
}

// Connection returns the guild's live connection without joining or moving.
// It fails when the guild has no connection or the link is down.
func (m *Manager) Connection(guildID string) (transport.Conn, error) {
	return m.live(guildID)
}

// Pause suspends the guild's current playback.
func (m *Manager) Pause(guildID string) error {
	conn, err := m.live(guildID)
	if err != nil {
		return err
	}
	return conn.Pause()
}

// Resume continues the guild's paused playback.
func (m *Manager) Resume(guildID string) error {
	conn, err := m.live(guildID)
	if err != nil {
		return err
	}
	return conn.Resume()
}

// Stop aborts the guild's current playback.
func (m *Manager) Stop(guildID string) error {
	conn, err := m.live(guildID)
	if err != nil {
		return err
	}
	return conn.Stop()
}

// IsConnected reports whether the guild has a live voice connection.
func (m *Manager) IsConnected(guildID string) bool {
	_, err := m.live(guildID)
	return err == nil
}

// Status returns a snapshot of the guild's connection. ok is false when the
// guild has no record.
func (m *Manager) Status(guildID string) (Status, bool) {
	rec, found := m.lookup(guildID)
	if !found {
		return Status{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	st := Status{
		GuildID:         guildID,
		ChannelID:       rec.channelID,
		LastHealthCheck: rec.lastHealthCheck,
	}
	if rec.conn != nil {
		st.Connected = rec.conn.IsConnected()
		st.Playing = rec.conn.IsPlaying()
		st.Paused = rec.conn.IsPaused()
		st.Latency, st.LatencyKnown = rec.conn.Latency()
	}
	return st, true
}

// StartMonitor launches the health monitor. Calling it on a running monitor
// is a no-op. The loop stops when ctx is cancelled or [Manager.StopMonitor]
// is called.
func (m *Manager) StartMonitor(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.monitorDone = done
	go m.monitor(ctx, done)
	slog.Info("voice health monitor started", "interval", m.checkInterval)
}

// StopMonitor cancels the health monitor and waits for the loop to exit.
// Safe to call when the monitor is not running.
func (m *Manager) StopMonitor() {
	m.monitorMu.Lock()
	cancel, done := m.cancel, m.monitorDone
	m.cancel, m.monitorDone = nil, nil
	m.monitorMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// monitor wakes every checkInterval, backing off to errorBackoff after a
// sweep that found unhealthy connections.
func (m *Manager) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(m.checkInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := m.checkInterval
		if unhealthy := m.sweep(ctx); unhealthy > 0 {
			next = m.errorBackoff
		}
		timer.Reset(next)
	}
}

// sweep checks every guild's connection once and returns how many were found
// dead. It refreshes lastHealthCheck but never mutates connection state.
func (m *Manager) sweep(ctx context.Context) int {
	m.regMu.Lock()
	snapshot := make(map[string]*record, len(m.records))
	for id, rec := range m.records {
		snapshot[id] = rec
	}
	m.regMu.Unlock()

	unhealthy := 0
	for guildID, rec := range snapshot {
		rec.mu.Lock()
		conn := rec.conn
		rec.lastHealthCheck = time.Now()
		rec.mu.Unlock()
		if conn == nil {
			continue
		}

		if !conn.IsConnected() {
			slog.Warn("voice connection lost", "guild_id", guildID)
			m.metrics.RecordVoiceDisconnect(ctx, guildID)
			unhealthy++
			continue
		}
		if lat, ok := conn.Latency(); ok && lat > m.latencyWarn {
			slog.Warn("high voice latency", "guild_id", guildID, "latency", lat)
		}
	}
	return unhealthy
}
