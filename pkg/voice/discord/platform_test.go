package discord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cantor-bot/cantor/pkg/voice"
)

// newTestConnection builds a Connection with fake transport seams: opus
// packets land on the returned channel and no real discordgo session is
// involved.
func newTestConnection(send chan []byte) *Connection {
	return &Connection{
		guildID:      "guild-1",
		channelID:    "channel-1",
		done:         make(chan struct{}),
		opusSend:     send,
		speaking:     func(bool) error { return nil },
		connected:    func() bool { return true },
		latencyFn:    func() (time.Duration, bool) { return 20 * time.Millisecond, true },
		moveVC:       func(string) error { return nil },
		disconnectVC: func() error { return nil },
	}
}

func fakeFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}
	return frames
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not complete in time")
		return nil
	}
}

func TestPlayFramesDeliversAllFrames(t *testing.T) {
	send := make(chan []byte, 16)
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(5), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("onComplete error = %v", err)
	}
	if got := len(send); got != 5 {
		t.Errorf("delivered %d frames, want 5", got)
	}
	if c.IsPlaying() {
		t.Error("IsPlaying() should be false after completion")
	}
}

func TestPlayFramesRejectsConcurrentPlayback(t *testing.T) {
	send := make(chan []byte) // unbuffered: first playback blocks on send
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(3), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	if err := c.playFrames(fakeFrames(1), nil); !errors.Is(err, voice.ErrBusy) {
		t.Errorf("second playFrames() error = %v, want ErrBusy", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Errorf("stopped playback should complete with nil, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	send := make(chan []byte)
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(3), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if !c.IsPaused() {
		t.Error("IsPaused() = false after Pause")
	}
	if !c.IsPlaying() {
		t.Error("a paused clip still counts as playing")
	}

	// Give the sender time to observe the pause, then confirm no frames flow.
	time.Sleep(100 * time.Millisecond)
	select {
	case f := <-send:
		t.Fatalf("received frame %v while paused", f)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	<-send
	<-send
	<-send
	if err := waitDone(t, done); err != nil {
		t.Errorf("onComplete error = %v", err)
	}
}

func TestControlErrorsWhenIdle(t *testing.T) {
	c := newTestConnection(make(chan []byte))

	if err := c.Pause(); !errors.Is(err, voice.ErrNotPlaying) {
		t.Errorf("Pause() on idle = %v, want ErrNotPlaying", err)
	}
	if err := c.Resume(); !errors.Is(err, voice.ErrNotPaused) {
		t.Errorf("Resume() on idle = %v, want ErrNotPaused", err)
	}
	if err := c.Stop(); !errors.Is(err, voice.ErrNotPlaying) {
		t.Errorf("Stop() on idle = %v, want ErrNotPlaying", err)
	}
}

func TestResumeWhileNotPaused(t *testing.T) {
	send := make(chan []byte)
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(2), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	if err := c.Resume(); !errors.Is(err, voice.ErrNotPaused) {
		t.Errorf("Resume() while playing unpaused = %v, want ErrNotPaused", err)
	}

	<-send
	<-send
	waitDone(t, done)
}

func TestStopWhilePaused(t *testing.T) {
	send := make(chan []byte)
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(3), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	<-send
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Errorf("stopped playback should complete with nil, got %v", err)
	}
}

func TestDisconnectAbortsPlayback(t *testing.T) {
	send := make(chan []byte)
	c := newTestConnection(send)
	done := make(chan error, 1)

	if err := c.playFrames(fakeFrames(3), func(err error) { done <- err }); err != nil {
		t.Fatalf("playFrames() error = %v", err)
	}
	<-send

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitDone(t, done)

	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := c.playFrames(fakeFrames(1), nil); !errors.Is(err, voice.ErrDisconnected) {
		t.Errorf("playFrames() after Disconnect = %v, want ErrDisconnected", err)
	}
	// Second Disconnect is a no-op.
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestMoveUpdatesChannel(t *testing.T) {
	c := newTestConnection(make(chan []byte))

	if err := c.Move(context.Background(), "channel-2"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if got := c.ChannelID(); got != "channel-2" {
		t.Errorf("ChannelID() = %q, want channel-2", got)
	}
}

func TestMoveFailureKeepsChannel(t *testing.T) {
	c := newTestConnection(make(chan []byte))
	c.moveVC = func(string) error { return errors.New("gateway rejected the move") }

	if err := c.Move(context.Background(), "channel-2"); err == nil {
		t.Fatal("Move() should propagate the transport error")
	}
	if got := c.ChannelID(); got != "channel-1" {
		t.Errorf("ChannelID() = %q after failed move, want channel-1", got)
	}
}

func TestStereoToMono(t *testing.T) {
	got := stereoToMono([]int{100, 200, -50, 50})
	want := []int{150, 0}
	if len(got) != len(want) {
		t.Fatalf("stereoToMono() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleLinearLength(t *testing.T) {
	in := make([]int, 24000) // one second at 24 kHz
	got := resampleLinear(in, 24000, opusSampleRate)
	if len(got) != opusSampleRate {
		t.Errorf("resampled length = %d, want %d", len(got), opusSampleRate)
	}
}

func TestResampleLinearSameRate(t *testing.T) {
	in := []int{1, 2, 3}
	got := resampleLinear(in, 48000, 48000)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("resampleLinear() with equal rates should return the input, got %v", got)
	}
}

func TestMonoToStereoBytes(t *testing.T) {
	got := monoToStereoBytes([]int{0x0201, 40000}) // second sample clamps
	if len(got) != 8 {
		t.Fatalf("monoToStereoBytes() length = %d, want 8", len(got))
	}
	if got[0] != 0x01 || got[1] != 0x02 || got[2] != 0x01 || got[3] != 0x02 {
		t.Errorf("first stereo pair = % x, want 01 02 01 02", got[:4])
	}
	if got[4] != 0xff || got[5] != 0x7f {
		t.Errorf("clamped sample = % x, want ff 7f", got[4:6])
	}
}
