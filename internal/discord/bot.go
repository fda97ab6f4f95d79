// Package discord provides the Discord bot layer for Cantor. It owns the
// discordgo.Session lifecycle, dispatches prefix commands, and reads guild
// messages aloud through the speech pipeline.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/internal/dispatch"
	"github.com/cantor-bot/cantor/internal/observe"
	"github.com/cantor-bot/cantor/internal/queue"
	"github.com/cantor-bot/cantor/internal/settings"
	"github.com/cantor-bot/cantor/internal/speech"
	"github.com/cantor-bot/cantor/internal/voice"
)

// Config holds the Discord bot configuration and its collaborators.
type Config struct {
	// Prefix introduces commands, e.g. "!" for "!join".
	Prefix string

	// DeleteDelay is how long a spoken source message lingers before it is
	// deleted. Zero disables deletion regardless of user settings.
	DeleteDelay time.Duration

	// CleanupInterval is how often idle voice connections are torn down.
	// Zero selects the default (5 minutes); negative disables the sweep.
	CleanupInterval time.Duration

	Settings *settings.Manager
	Speech   *speech.Gateway
	Queue    *queue.Queue
	Voices   *voice.Manager
	Driver   *dispatch.Driver
	Metrics  *observe.Metrics
}

// commandFunc handles one parsed prefix command.
type commandFunc func(ctx context.Context, m *discordgo.Message, args []string)

// Bot owns the Discord gateway connection. Guild messages either dispatch to
// a command handler (when prefixed) or flow into the speech pipeline.
type Bot struct {
	session      *discordgo.Session
	prefix       string
	delay        time.Duration
	cleanupEvery time.Duration
	settings     *settings.Manager
	speech       *speech.Gateway
	queue        *queue.Queue
	voices       *voice.Manager
	driver       *dispatch.Driver
	metrics      *observe.Metrics
	commands     map[string]commandFunc

	baseCtx   context.Context
	done      chan struct{}
	closeOnce sync.Once

	// Session access points, overridable in tests.
	sendEmbed     func(channelID string, embed *discordgo.MessageEmbed) error
	deleteMessage func(channelID, messageID string) error
	permissions   func(userID, channelID string) (int64, error)
	voiceState    func(guildID, userID string) (*discordgo.VoiceState, error)
}

// New connects the session to Discord and registers the message handler.
// The session is created by the caller so the voice transport can share it.
func New(ctx context.Context, session *discordgo.Session, cfg Config) (*Bot, error) {
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := newBot(ctx, cfg)
	b.session = session
	b.sendEmbed = func(channelID string, embed *discordgo.MessageEmbed) error {
		_, err := session.ChannelMessageSendEmbed(channelID, embed)
		return err
	}
	b.deleteMessage = func(channelID, messageID string) error {
		return session.ChannelMessageDelete(channelID, messageID)
	}
	b.permissions = func(userID, channelID string) (int64, error) {
		return session.UserChannelPermissions(userID, channelID)
	}
	b.voiceState = session.State.VoiceState

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(b.baseCtx, m.Message)
	})
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		b.guildRemoved(b.baseCtx, g.ID)
	})

	return b, nil
}

// newBot wires the command table and collaborators without touching Discord.
func newBot(ctx context.Context, cfg Config) *Bot {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b := &Bot{
		prefix:       cfg.Prefix,
		delay:        cfg.DeleteDelay,
		cleanupEvery: cfg.CleanupInterval,
		settings:     cfg.Settings,
		speech:       cfg.Speech,
		queue:        cfg.Queue,
		voices:       cfg.Voices,
		driver:       cfg.Driver,
		metrics:      cfg.Metrics,
		baseCtx:      ctx,
		done:         make(chan struct{}),
	}
	b.commands = map[string]commandFunc{
		"join":     b.cmdJoin,
		"leave":    b.cmdLeave,
		"voice":    b.cmdVoice,
		"speed":    b.cmdSpeed,
		"language": b.cmdLanguage,
		"lang":     b.cmdLanguage,
		"pause":    b.cmdPause,
		"resume":   b.cmdResume,
		"skip":     b.cmdSkip,
		"stats":    b.cmdStats,
		"cleanup":  b.cmdCleanup,
	}
	return b
}

// Session returns the underlying discordgo session. Used by subsystems that
// need direct Discord API access (e.g., the readiness check).
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Run blocks until ctx is cancelled, periodically tearing down idle voice
// connections along the way.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("discord bot running", "prefix", b.prefix, "cleanup_interval", b.cleanupEvery)
	var tick <-chan time.Time
	if b.cleanupEvery > 0 {
		ticker := time.NewTicker(b.cleanupEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case <-tick:
			b.sweepIdle(ctx)
		}
	}
}

// sweepIdle tears down voice connections that are neither playing nor holding
// queued clips. Paused playback counts as active.
func (b *Bot) sweepIdle(ctx context.Context) {
	for _, guildID := range b.voices.Guilds() {
		st, ok := b.voices.Status(guildID)
		if !ok || !st.Connected || st.Playing || st.Paused {
			continue
		}
		if b.queue.Size(guildID) > 0 {
			continue
		}
		if err := b.voices.CleanupConnection(ctx, guildID); err != nil {
			slog.Warn("discord: idle connection cleanup failed", "guild_id", guildID, "err", err)
			continue
		}
		slog.Info("discord: idle voice connection cleaned up", "guild_id", guildID)
	}
}

// guildRemoved evicts all per-guild state after the bot leaves a guild.
func (b *Bot) guildRemoved(ctx context.Context, guildID string) {
	b.queue.Remove(ctx, guildID)
	b.voices.Remove(ctx, guildID)
	slog.Info("discord: guild state evicted", "guild_id", guildID)
}

// Close disconnects from Discord. Safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.done)
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// handleMessage routes one guild message: prefixed content dispatches to a
// command handler, everything else is read aloud.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	if strings.HasPrefix(content, b.prefix) {
		b.dispatchCommand(ctx, m, strings.TrimPrefix(content, b.prefix))
		return
	}
	b.speak(ctx, m, content)
}

func (b *Bot) dispatchCommand(ctx context.Context, m *discordgo.Message, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])

	handler, ok := b.commands[name]
	if !ok {
		b.replyError(m, fmt.Sprintf("Unknown command `%s%s`.", b.prefix, name))
		return
	}

	start := time.Now()
	handler(ctx, m, fields[1:])
	b.metrics.RecordCommand(ctx, name, time.Since(start).Seconds())
	slog.Debug("discord command handled", "command", name, "guild_id", m.GuildID, "user_id", m.Author.ID)
}
