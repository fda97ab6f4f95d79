package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Conn = (*Connection)(nil)

// Connection adapts a discordgo.VoiceConnection to the [voice.Conn]
// interface: single-track WAV playback with pause, resume and stop.
//
// Playback runs in a background goroutine that encodes 20 ms Opus frames and
// pushes them on the voice connection's send channel; discordgo paces the
// actual transmission. Connection is safe for concurrent use.
type Connection struct {
	session *discordgo.Session
	guildID string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID string
	current   *playback
	paused    bool
	pausedCh  chan struct{} // closed on Pause, recreated on Resume
	resumeCh  chan struct{} // closed on Resume, recreated on Pause

	done      chan struct{}
	closeOnce sync.Once

	// Transport seams, defaulting to discordgo-backed closures in
	// newConnection; overridden in tests.
	opusSend     chan<- []byte
	speaking     func(bool) error
	connected    func() bool
	latencyFn    func() (time.Duration, bool)
	moveVC       func(channelID string) error
	disconnectVC func() error
}

// playback tracks one in-flight clip. stop aborts it; the sender goroutine is
// the only reader.
type playback struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *playback) abort() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// newConnection wraps an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string) *Connection {
	c := &Connection{
		session:   session,
		guildID:   guildID,
		vc:        vc,
		channelID: channelID,
		done:      make(chan struct{}),
		opusSend:  vc.OpusSend,
		speaking:  vc.Speaking,
	}
	c.connected = func() bool {
		vc.RLock()
		defer vc.RUnlock()
		return vc.Ready
	}
	c.latencyFn = func() (time.Duration, bool) {
		d := session.HeartbeatLatency()
		return d, d > 0
	}
	c.moveVC = func(channelID string) error {
		return vc.ChangeChannel(channelID, false, true)
	}
	c.disconnectVC = vc.Disconnect
	return c
}

// ChannelID reports the channel this connection is currently in.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Move switches to another voice channel in the same guild. On failure the
// connection keeps its previous channel.
func (c *Connection) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return voice.ErrDisconnected
	}
	if err := c.moveVC(channelID); err != nil {
		return fmt.Errorf("discord: move to channel %q: %w", channelID, err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return nil
}

// IsConnected reports whether the voice websocket and UDP link are up.
func (c *Connection) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return c.connected()
}

// IsPlaying reports whether a clip is in flight. A paused clip counts as
// playing.
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// IsPaused reports whether playback is paused.
func (c *Connection) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Play decodes the WAV clip, encodes it to Opus and starts streaming it. It
// returns once streaming has started; onComplete fires exactly once when the
// clip finishes, is stopped, or the connection dies mid-clip.
func (c *Connection) Play(wavAudio []byte, onComplete func(error)) error {
	frames, err := c.encodeClip(wavAudio)
	if err != nil {
		return err
	}
	return c.playFrames(frames, onComplete)
}

// encodeClip converts a WAV clip into ready-to-send Opus packets.
func (c *Connection) encodeClip(wavAudio []byte) ([][]byte, error) {
	pcm, err := wavToPlaybackPCM(wavAudio)
	if err != nil {
		return nil, err
	}

	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, len(pcm)/opusFrameBytes+1)
	for len(pcm) > 0 {
		chunk := pcm
		if len(chunk) > opusFrameBytes {
			chunk = chunk[:opusFrameBytes]
		}
		pcm = pcm[len(chunk):]
		if len(chunk) < opusFrameBytes {
			// Zero-pad the trailing partial frame to a full 20 ms.
			padded := make([]byte, opusFrameBytes)
			copy(padded, chunk)
			chunk = padded
		}
		opus, err := enc.encode(chunk)
		if err != nil {
			return nil, err
		}
		frames = append(frames, opus)
	}
	return frames, nil
}

// playFrames starts the sender goroutine for pre-encoded Opus packets.
func (c *Connection) playFrames(frames [][]byte, onComplete func(error)) error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return voice.ErrDisconnected
	default:
	}
	if c.current != nil {
		c.mu.Unlock()
		return voice.ErrBusy
	}
	pb := &playback{stop: make(chan struct{})}
	c.current = pb
	c.paused = false
	c.pausedCh = make(chan struct{})
	c.mu.Unlock()

	go c.run(pb, frames, onComplete)
	return nil
}

func (c *Connection) run(pb *playback, frames [][]byte, onComplete func(error)) {
	err := c.sendFrames(pb, frames)

	c.mu.Lock()
	c.current = nil
	c.paused = false
	c.mu.Unlock()

	if onComplete != nil {
		onComplete(err)
	}
}

func (c *Connection) sendFrames(pb *playback, frames [][]byte) error {
	c.setSpeaking(true)
	defer c.setSpeaking(false)

	for _, frame := range frames {
		sent := false
		for !sent {
			c.mu.Lock()
			paused, pausedCh, resumeCh := c.paused, c.pausedCh, c.resumeCh
			c.mu.Unlock()

			// Pause gate. Stop and disconnect interrupt a paused clip too.
			if paused {
				select {
				case <-resumeCh:
					continue
				case <-pb.stop:
					return nil
				case <-c.done:
					return voice.ErrDisconnected
				}
			}

			select {
			case c.opusSend <- frame:
				sent = true
			case <-pausedCh:
				// Paused while waiting to send; park without losing the frame.
			case <-pb.stop:
				return nil
			case <-c.done:
				return voice.ErrDisconnected
			}
		}
	}
	return nil
}

// Pause suspends the current clip. Pausing an already-paused clip is a no-op.
func (c *Connection) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return voice.ErrNotPlaying
	}
	if c.paused {
		return nil
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
	close(c.pausedCh)
	return nil
}

// Resume continues a paused clip.
func (c *Connection) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.paused {
		return voice.ErrNotPaused
	}
	c.paused = false
	c.pausedCh = make(chan struct{})
	close(c.resumeCh)
	return nil
}

// Stop aborts the current clip. Its onComplete still fires, with a nil error.
func (c *Connection) Stop() error {
	c.mu.Lock()
	pb := c.current
	c.mu.Unlock()
	if pb == nil {
		return voice.ErrNotPlaying
	}
	pb.abort()
	return nil
}

// Latency reports the gateway heartbeat round-trip time. ok is false before
// the first heartbeat acknowledgement.
func (c *Connection) Latency() (time.Duration, bool) {
	return c.latencyFn()
}

// Disconnect aborts any in-flight clip and tears the voice connection down.
// Safe to call more than once.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		pb := c.current
		c.mu.Unlock()
		if pb != nil {
			pb.abort()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// setSpeaking sends the speaking notification, logging failures. A failed
// notification does not abort playback.
func (c *Connection) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
