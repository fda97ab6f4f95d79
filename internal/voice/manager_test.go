package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	transport "github.com/cantor-bot/cantor/pkg/voice"
	voicemock "github.com/cantor-bot/cantor/pkg/voice/mock"
)

func newTestManager(t *testing.T, tr *voicemock.Transport, policy CleanupPolicy, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(Config{Transport: tr, Policy: policy}, opts...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManagerRejectsUnknownPolicy(t *testing.T) {
	_, err := NewManager(Config{Transport: &voicemock.Transport{}, Policy: "detonate"})
	if err == nil {
		t.Fatal("NewManager() should reject an unknown cleanup policy")
	}
}

func TestGetConnectionConnectsOnce(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	first, err := m.GetConnection(context.Background(), "guild-1", "channel-1")
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	second, err := m.GetConnection(context.Background(), "guild-1", "channel-1")
	if err != nil {
		t.Fatalf("second GetConnection() error = %v", err)
	}
	if first != second {
		t.Error("same-channel GetConnection should return the existing handle")
	}
	if tr.CallCountConnect != 1 {
		t.Errorf("Connect called %d times, want 1", tr.CallCountConnect)
	}
}

func TestGetConnectionMovesChannels(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	conn, err := m.GetConnection(context.Background(), "guild-1", "channel-1")
	if err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	moved, err := m.GetConnection(context.Background(), "guild-1", "channel-2")
	if err != nil {
		t.Fatalf("GetConnection() to a new channel error = %v", err)
	}
	if moved != conn {
		t.Error("moving should reuse the existing connection")
	}
	if got := conn.ChannelID(); got != "channel-2" {
		t.Errorf("ChannelID() = %q, want channel-2", got)
	}
	if tr.CallCountConnect != 1 {
		t.Errorf("Connect called %d times, want 1 (move, not rejoin)", tr.CallCountConnect)
	}
}

func TestGetConnectionMoveFailureKeepsRecord(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	tr.Conns[0].MoveErr = errors.New("gateway rejected the move")

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-2"); err == nil {
		t.Fatal("GetConnection() should propagate the move failure")
	}

	st, ok := m.Status("guild-1")
	if !ok {
		t.Fatal("Status() should find the record after a failed move")
	}
	if st.ChannelID != "channel-1" {
		t.Errorf("record channel = %q after failed move, want channel-1", st.ChannelID)
	}
	if !st.Connected {
		t.Error("connection should survive a failed move")
	}
}

func TestGetConnectionSeparateGuilds(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	a, err := m.GetConnection(context.Background(), "guild-a", "channel-1")
	if err != nil {
		t.Fatalf("GetConnection(guild-a) error = %v", err)
	}
	b, err := m.GetConnection(context.Background(), "guild-b", "channel-1")
	if err != nil {
		t.Fatalf("GetConnection(guild-b) error = %v", err)
	}
	if a == b {
		t.Error("guilds must not share connections")
	}
	if tr.CallCountConnect != 2 {
		t.Errorf("Connect called %d times, want 2", tr.CallCountConnect)
	}
}

func TestGetConnectionReconnectsDeadLink(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	tr.Conns[0].Connected = false

	conn, err := m.GetConnection(context.Background(), "guild-1", "channel-1")
	if err != nil {
		t.Fatalf("GetConnection() after link death error = %v", err)
	}
	if !conn.IsConnected() {
		t.Error("a dead link should be replaced with a fresh connection")
	}
	if tr.CallCountConnect != 2 {
		t.Errorf("Connect called %d times, want 2", tr.CallCountConnect)
	}
}

func TestCleanupTeardown(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	if err := m.CleanupConnection(context.Background(), "guild-1"); err != nil {
		t.Fatalf("CleanupConnection() error = %v", err)
	}

	if tr.Conns[0].CallCountDisconnect != 1 {
		t.Errorf("Disconnect called %d times, want 1", tr.Conns[0].CallCountDisconnect)
	}
	if _, ok := m.Status("guild-1"); ok {
		t.Error("teardown should delete the record")
	}
}

func TestCleanupHaltKeepsSession(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyHalt)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	conn := tr.Conns[0]
	conn.HoldPlayback = true
	if err := conn.Play([]byte("clip"), nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	if err := m.CleanupConnection(context.Background(), "guild-1"); err != nil {
		t.Fatalf("CleanupConnection() error = %v", err)
	}
	if conn.CallCountStop != 1 {
		t.Errorf("Stop called %d times, want 1", conn.CallCountStop)
	}
	if conn.CallCountDisconnect != 0 {
		t.Errorf("Disconnect called %d times under halt policy, want 0", conn.CallCountDisconnect)
	}
	if !m.IsConnected("guild-1") {
		t.Error("halt policy should keep the session connected")
	}
}

func TestCleanupUnknownGuildIsNoop(t *testing.T) {
	m := newTestManager(t, &voicemock.Transport{}, PolicyTeardown)
	if err := m.CleanupConnection(context.Background(), "guild-unknown"); err != nil {
		t.Errorf("CleanupConnection() for unknown guild = %v, want nil", err)
	}
}

func TestRemoveEvictsRegardlessOfPolicy(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyHalt)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	m.Remove(context.Background(), "guild-1")

	if tr.Conns[0].CallCountDisconnect != 1 {
		t.Errorf("Disconnect called %d times, want 1", tr.Conns[0].CallCountDisconnect)
	}
	if _, ok := m.Status("guild-1"); ok {
		t.Error("Remove should delete the record even under halt policy")
	}
}

func TestGuildsListsRecords(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	if got := m.Guilds(); len(got) != 0 {
		t.Fatalf("Guilds() = %v on a fresh manager, want empty", got)
	}

	for _, g := range []string{"guild-1", "guild-2"} {
		if _, err := m.GetConnection(context.Background(), g, "channel-1"); err != nil {
			t.Fatalf("GetConnection(%s) error = %v", g, err)
		}
	}
	if got := m.Guilds(); len(got) != 2 {
		t.Fatalf("Guilds() = %v, want 2 entries", got)
	}

	m.Remove(context.Background(), "guild-1")
	if got := m.Guilds(); len(got) != 1 || got[0] != "guild-2" {
		t.Errorf("Guilds() after Remove = %v, want [guild-2]", got)
	}
}

func TestPlaybackControlsWithoutConnection(t *testing.T) {
	m := newTestManager(t, &voicemock.Transport{}, PolicyTeardown)

	if err := m.Pause("guild-1"); err == nil {
		t.Error("Pause() without a connection should fail")
	}
	if err := m.Resume("guild-1"); err == nil {
		t.Error("Resume() without a connection should fail")
	}
	if err := m.Stop("guild-1"); err == nil {
		t.Error("Stop() without a connection should fail")
	}
	if m.IsConnected("guild-1") {
		t.Error("IsConnected() without a connection should be false")
	}
}

func TestPlaybackControlsDelegate(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	conn := tr.Conns[0]
	conn.HoldPlayback = true
	if err := conn.Play([]byte("clip"), nil); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	if err := m.Pause("guild-1"); err != nil {
		t.Errorf("Pause() error = %v", err)
	}
	if err := m.Resume("guild-1"); err != nil {
		t.Errorf("Resume() error = %v", err)
	}
	if err := m.Resume("guild-1"); !errors.Is(err, transport.ErrNotPaused) {
		t.Errorf("Resume() while not paused = %v, want ErrNotPaused", err)
	}
	if err := m.Stop("guild-1"); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestMonitorRefreshesHealthChecks(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown,
		WithCheckInterval(10*time.Millisecond),
		WithErrorBackoff(10*time.Millisecond),
	)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	before, _ := m.Status("guild-1")

	m.StartMonitor(context.Background())
	defer m.StopMonitor()

	deadline := time.After(2 * time.Second)
	for {
		st, _ := m.Status("guild-1")
		if st.LastHealthCheck.After(before.LastHealthCheck) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("monitor never refreshed lastHealthCheck")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMonitorObservesWithoutTeardown(t *testing.T) {
	tr := &voicemock.Transport{}
	m := newTestManager(t, tr, PolicyTeardown,
		WithCheckInterval(5*time.Millisecond),
		WithErrorBackoff(5*time.Millisecond),
	)

	if _, err := m.GetConnection(context.Background(), "guild-1", "channel-1"); err != nil {
		t.Fatalf("GetConnection() error = %v", err)
	}
	tr.Conns[0].Connected = false

	m.StartMonitor(context.Background())
	time.Sleep(50 * time.Millisecond)
	m.StopMonitor()

	if _, ok := m.Status("guild-1"); !ok {
		t.Error("the monitor must not delete records for dead connections")
	}
	if tr.Conns[0].CallCountDisconnect != 0 {
		t.Error("the monitor must not disconnect dead connections")
	}
}

func TestStopMonitorIdempotent(t *testing.T) {
	m := newTestManager(t, &voicemock.Transport{}, PolicyTeardown)
	m.StopMonitor() // not running: no-op

	m.StartMonitor(context.Background())
	m.StartMonitor(context.Background()) // second start: no-op
	m.StopMonitor()
	m.StopMonitor()
}
