package discord

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/internal/queue"
	"github.com/cantor-bot/cantor/internal/speech"
	"github.com/cantor-bot/cantor/pkg/synth"
)

// Queue priorities. Administrators jump ahead of everyone else.
const (
	priorityAdmin   = 0
	priorityDefault = 1
)

// speak synthesises a guild message with the author's settings and queues it
// for playback. Messages are ignored while the bot is not in a voice channel.
func (b *Bot) speak(ctx context.Context, m *discordgo.Message, content string) {
	if !b.voices.IsConnected(m.GuildID) {
		return
	}

	resolved, err := b.settings.Resolve(ctx, m.GuildID, m.Author.ID)
	if err != nil {
		// Resolve degrades to whatever layers it could load.
		slog.Warn("discord: settings lookup degraded", "guild_id", m.GuildID, "user_id", m.Author.ID, "err", err)
	}

	audio, err := b.speech.Generate(ctx, synth.Request{
		Text:     content,
		Voice:    resolved.Voice,
		Speed:    resolved.Speed,
		Language: resolved.Language,
	})
	if err != nil {
		b.reportSpeechFailure(m, err)
		return
	}

	if err := b.queue.Enqueue(ctx, m.GuildID, audio, content, b.priority(m)); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			b.replyError(m, "The playback queue is full. Try again in a moment.")
		} else {
			slog.Warn("discord: enqueue failed", "guild_id", m.GuildID, "err", err)
		}
		return
	}

	b.metrics.MessagesProcessed.Add(ctx, 1)
	b.driver.Pump(ctx, m.GuildID)
	b.scheduleDelete(m, resolved.AutoDelete)
}

func (b *Bot) reportSpeechFailure(m *discordgo.Message, err error) {
	switch {
	case errors.Is(err, speech.ErrMessageTooLong):
		b.replyError(m, "That message is too long to read aloud (max 500 characters).")
	case errors.Is(err, speech.ErrServiceUnavailable):
		b.replyError(m, "Speech synthesis is temporarily unavailable. Try again shortly.")
	case errors.Is(err, speech.ErrVoiceNotFound):
		b.replyError(m, "Your configured voice is unavailable. Use `"+b.prefix+"voice` to pick another.")
	default:
		slog.Warn("discord: synthesis failed", "guild_id", m.GuildID, "err", err)
	}
}

// priority returns the queue priority for the message author. Permission
// lookup failures fall back to the default priority.
func (b *Bot) priority(m *discordgo.Message) int {
	perms, err := b.permissions(m.Author.ID, m.ChannelID)
	if err != nil {
		slog.Debug("discord: permission lookup failed", "user_id", m.Author.ID, "err", err)
		return priorityDefault
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return priorityAdmin
	}
	return priorityDefault
}

// scheduleDelete removes the spoken source message after the configured
// delay. Skipped when the author opted out or deletion is disabled.
func (b *Bot) scheduleDelete(m *discordgo.Message, autoDelete bool) {
	if !autoDelete || b.delay <= 0 {
		return
	}
	channelID, messageID := m.ChannelID, m.ID
	time.AfterFunc(b.delay, func() {
		select {
		case <-b.done:
			return
		default:
		}
		if err := b.deleteMessage(channelID, messageID); err != nil {
			slog.Debug("discord: failed to delete source message", "channel_id", channelID, "message_id", messageID, "err", err)
		}
	})
}
