// Package mock provides in-memory mock implementations of [voice.Transport]
// and [voice.Conn] for use in unit tests.
//
// The mocks are safe for concurrent use. They record every call so tests can
// assert on call counts and arguments, and expose exported fields the test
// can set to control return values.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/cantor-bot/cantor/pkg/voice"
)

// Compile-time interface assertions.
var (
	_ voice.Transport = (*Transport)(nil)
	_ voice.Conn      = (*Conn)(nil)
)

// Transport is a mock implementation of [voice.Transport].
type Transport struct {
	mu sync.Mutex

	// ConnectErr, when non-nil, is returned by Connect.
	ConnectErr error

	// ConnectFunc, when non-nil, replaces the default Connect behaviour.
	ConnectFunc func(ctx context.Context, guildID, channelID string) (voice.Conn, error)

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// Conns holds every connection handed out, in order.
	Conns []*Conn
}

// Connect implements [voice.Transport]. Unless ConnectFunc or ConnectErr is
// set, it returns a fresh connected [Conn] for the requested channel.
func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountConnect++

	if t.ConnectFunc != nil {
		return t.ConnectFunc(ctx, guildID, channelID)
	}
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	c := NewConn(guildID, channelID)
	t.Conns = append(t.Conns, c)
	return c, nil
}

// Conn is a mock implementation of [voice.Conn]. Play completes clips
// synchronously unless HoldPlayback is set.
type Conn struct {
	mu sync.Mutex

	// GuildID and Channel identify where the mock is "connected".
	GuildID string
	Channel string

	// Connected is reported by IsConnected. NewConn sets it to true.
	Connected bool

	// LatencyResult and LatencyOK are returned by Latency.
	LatencyResult time.Duration
	LatencyOK     bool

	// MoveErr, PlayErr, DisconnectErr control the corresponding methods.
	MoveErr       error
	PlayErr       error
	DisconnectErr error

	// PlaybackErr is passed to onComplete when a clip finishes.
	PlaybackErr error

	// HoldPlayback, when set, keeps clips in flight until ReleasePlayback is
	// called, so tests can observe the playing state.
	HoldPlayback bool

	// Played holds every clip passed to Play, in order.
	Played [][]byte

	// Call counters.
	CallCountPlay       int
	CallCountPause      int
	CallCountResume     int
	CallCountStop       int
	CallCountMove       int
	CallCountDisconnect int

	playing    bool
	paused     bool
	onComplete func(error)
}

// NewConn creates a connected mock Conn.
func NewConn(guildID, channelID string) *Conn {
	return &Conn{GuildID: guildID, Channel: channelID, Connected: true, LatencyOK: true}
}

// ChannelID implements [voice.Conn].
func (c *Conn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// Move implements [voice.Conn]. On MoveErr the channel is left unchanged.
func (c *Conn) Move(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountMove++
	if c.MoveErr != nil {
		return c.MoveErr
	}
	c.Channel = channelID
	return nil
}

// IsConnected implements [voice.Conn].
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Connected
}

// IsPlaying implements [voice.Conn].
func (c *Conn) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// IsPaused implements [voice.Conn].
func (c *Conn) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Play implements [voice.Conn]. Without HoldPlayback the clip completes
// immediately: onComplete is invoked with PlaybackErr before Play returns.
func (c *Conn) Play(wav []byte, onComplete func(error)) error {
	c.mu.Lock()
	c.CallCountPlay++
	if c.PlayErr != nil {
		err := c.PlayErr
		c.mu.Unlock()
		return err
	}
	if c.playing {
		c.mu.Unlock()
		return voice.ErrBusy
	}
	c.Played = append(c.Played, wav)

	if c.HoldPlayback {
		c.playing = true
		c.onComplete = onComplete
		c.mu.Unlock()
		return nil
	}
	err := c.PlaybackErr
	c.mu.Unlock()
	if onComplete != nil {
		onComplete(err)
	}
	return nil
}

// ReleasePlayback completes a clip held by HoldPlayback.
func (c *Conn) ReleasePlayback() {
	c.mu.Lock()
	cb := c.onComplete
	err := c.PlaybackErr
	c.playing = false
	c.paused = false
	c.onComplete = nil
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// Pause implements [voice.Conn].
func (c *Conn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountPause++
	if !c.playing {
		return voice.ErrNotPlaying
	}
	c.paused = true
	return nil
}

// Resume implements [voice.Conn].
func (c *Conn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountResume++
	if !c.paused {
		return voice.ErrNotPaused
	}
	c.paused = false
	return nil
}

// Stop implements [voice.Conn]. A held clip's onComplete fires with nil.
func (c *Conn) Stop() error {
	c.mu.Lock()
	c.CallCountStop++
	if !c.playing {
		c.mu.Unlock()
		return voice.ErrNotPlaying
	}
	cb := c.onComplete
	c.playing = false
	c.paused = false
	c.onComplete = nil
	c.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
	return nil
}

// Latency implements [voice.Conn].
func (c *Conn) Latency() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LatencyResult, c.LatencyOK
}

// Disconnect implements [voice.Conn].
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.Connected = false
	c.playing = false
	c.paused = false
	return c.DisconnectErr
}
