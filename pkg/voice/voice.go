// Package voice defines the playback transport abstraction: joining a voice
// channel on some chat platform and playing pre-rendered audio into it.
//
// A [Transport] produces one [Conn] per joined channel. Implementations live
// in subpackages (pkg/voice/discord for the real platform, pkg/voice/mock for
// tests); the connection manager and the playback driver depend only on the
// interfaces here.
package voice

import (
	"context"
	"errors"
	"time"
)

// Playback state errors. Control operations return these when the connection
// is not in a state the operation applies to; match with [errors.Is].
var (
	// ErrBusy is returned by Play while another playback is in progress.
	ErrBusy = errors.New("playback already in progress")

	// ErrNotPlaying is returned by Pause and Stop when nothing is playing.
	ErrNotPlaying = errors.New("nothing is playing")

	// ErrNotPaused is returned by Resume when playback is not paused.
	ErrNotPaused = errors.New("playback is not paused")

	// ErrDisconnected is returned by operations on a dead connection.
	ErrDisconnected = errors.New("voice connection closed")
)

// Transport joins voice channels and hands out connections. Implementations
// must be safe for concurrent use.
type Transport interface {
	// Connect joins the given voice channel in the given guild. ctx governs
	// the setup phase only; the returned Conn lives until Disconnect.
	Connect(ctx context.Context, guildID, channelID string) (Conn, error)
}

// Conn is an established voice connection with single-track playback.
// At most one Play is active at a time; a second Play while audio is in
// flight returns [ErrBusy]. Implementations must be safe for concurrent use.
type Conn interface {
	// ChannelID reports the channel this connection is currently in.
	ChannelID() string

	// Move switches the connection to another channel in the same guild
	// without tearing it down. On failure the connection keeps its previous
	// channel.
	Move(ctx context.Context, channelID string) error

	// IsConnected reports whether the underlying transport link is alive.
	IsConnected() bool

	// IsPlaying reports whether audio is in flight (paused counts as playing).
	IsPlaying() bool

	// IsPaused reports whether playback is paused.
	IsPaused() bool

	// Play starts playing a WAV-encoded clip. It returns once playback has
	// started; onComplete is invoked exactly once when the clip finishes,
	// is stopped, or fails, with the playback error if any.
	Play(wav []byte, onComplete func(error)) error

	// Pause suspends the current playback.
	Pause() error

	// Resume continues a paused playback.
	Resume() error

	// Stop aborts the current playback. The clip's onComplete still fires.
	Stop() error

	// Latency reports the transport round-trip time. ok is false when the
	// implementation cannot measure it (e.g. before the first heartbeat).
	Latency() (latency time.Duration, ok bool)

	// Disconnect tears the connection down. Safe to call more than once.
	Disconnect() error
}
