package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/internal/settings"
	"github.com/cantor-bot/cantor/internal/voice"
	transport "github.com/cantor-bot/cantor/pkg/voice"
)

// Embed accent colours.
const (
	colorOK   = 0x57f287
	colorErr  = 0xed4245
	colorInfo = 0x5865f2
)

func (b *Bot) reply(m *discordgo.Message, embed *discordgo.MessageEmbed) {
	if err := b.sendEmbed(m.ChannelID, embed); err != nil {
		slog.Warn("discord: failed to send response", "channel_id", m.ChannelID, "err", err)
	}
}

func (b *Bot) replyOK(m *discordgo.Message, title, description string) {
	b.reply(m, &discordgo.MessageEmbed{Title: title, Description: description, Color: colorOK})
}

func (b *Bot) replyError(m *discordgo.Message, description string) {
	b.reply(m, &discordgo.MessageEmbed{Title: "Error", Description: description, Color: colorErr})
}

func (b *Bot) cmdJoin(ctx context.Context, m *discordgo.Message, _ []string) {
	vs, err := b.voiceState(m.GuildID, m.Author.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		b.replyError(m, "Join a voice channel first.")
		return
	}

	if _, err := b.voices.GetConnection(ctx, m.GuildID, vs.ChannelID); err != nil {
		slog.Warn("discord: voice join failed", "guild_id", m.GuildID, "channel_id", vs.ChannelID, "err", err)
		b.replyError(m, "Could not join the voice channel.")
		return
	}
	b.replyOK(m, "Connected", fmt.Sprintf("Reading messages aloud in <#%s>.", vs.ChannelID))
}

func (b *Bot) cmdLeave(ctx context.Context, m *discordgo.Message, _ []string) {
	if !b.voices.IsConnected(m.GuildID) {
		b.replyError(m, "I'm not in a voice channel.")
		return
	}

	b.queue.Clear(ctx, m.GuildID)
	if err := b.voices.CleanupConnection(ctx, m.GuildID); err != nil {
		slog.Warn("discord: voice leave failed", "guild_id", m.GuildID, "err", err)
		b.replyError(m, "Could not leave the voice channel.")
		return
	}
	b.replyOK(m, "Disconnected", "Left the voice channel and cleared the queue.")
}

func (b *Bot) cmdVoice(ctx context.Context, m *discordgo.Message, args []string) {
	if len(args) == 0 {
		resolved, _ := b.settings.Resolve(ctx, m.GuildID, m.Author.ID)
		b.reply(m, &discordgo.MessageEmbed{
			Title: "Voices",
			Color: colorInfo,
			Description: fmt.Sprintf("Your voice: **%s**\nAvailable: %s",
				resolved.Voice, strings.Join(b.speech.Voices(), ", ")),
		})
		return
	}

	name := args[0]
	if !slices.Contains(b.speech.Voices(), name) {
		b.replyError(m, fmt.Sprintf("Unknown voice %q. Use `%svoice` to list available voices.", name, b.prefix))
		return
	}
	if err := b.settings.SetUserVoice(ctx, m.GuildID, m.Author.ID, name); err != nil {
		slog.Warn("discord: settings update failed", "guild_id", m.GuildID, "user_id", m.Author.ID, "err", err)
		b.replyError(m, "Could not save your settings.")
		return
	}
	b.replyOK(m, "Voice updated", fmt.Sprintf("Your messages will be read with **%s**.", name))
}

func (b *Bot) cmdSpeed(ctx context.Context, m *discordgo.Message, args []string) {
	if len(args) == 0 {
		resolved, _ := b.settings.Resolve(ctx, m.GuildID, m.Author.ID)
		b.reply(m, &discordgo.MessageEmbed{
			Title: "Speed",
			Color: colorInfo,
			Description: fmt.Sprintf("Your speed: **%.2fx** (allowed %.1f to %.1f)",
				resolved.Speed, settings.MinSpeed, settings.MaxSpeed),
		})
		return
	}

	speed, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		b.replyError(m, fmt.Sprintf("%q is not a number.", args[0]))
		return
	}
	if speed < settings.MinSpeed || speed > settings.MaxSpeed {
		b.replyError(m, fmt.Sprintf("Speed must be between %.1f and %.1f.", settings.MinSpeed, settings.MaxSpeed))
		return
	}
	if err := b.settings.SetUserSpeed(ctx, m.GuildID, m.Author.ID, speed); err != nil {
		slog.Warn("discord: settings update failed", "guild_id", m.GuildID, "user_id", m.Author.ID, "err", err)
		b.replyError(m, "Could not save your settings.")
		return
	}
	b.replyOK(m, "Speed updated", fmt.Sprintf("Your messages will be read at **%.2fx**.", speed))
}

func (b *Bot) cmdLanguage(ctx context.Context, m *discordgo.Message, args []string) {
	if len(args) == 0 {
		resolved, _ := b.settings.Resolve(ctx, m.GuildID, m.Author.ID)
		b.reply(m, &discordgo.MessageEmbed{
			Title:       "Language",
			Color:       colorInfo,
			Description: fmt.Sprintf("Your language: **%s**", resolved.Language),
		})
		return
	}

	if err := b.settings.SetUserLanguage(ctx, m.GuildID, m.Author.ID, args[0]); err != nil {
		slog.Warn("discord: settings update failed", "guild_id", m.GuildID, "user_id", m.Author.ID, "err", err)
		b.replyError(m, "Could not save your settings.")
		return
	}
	b.replyOK(m, "Language updated", fmt.Sprintf("Your messages will be read in **%s**.",
		strings.ToLower(strings.TrimSpace(args[0]))))
}

func (b *Bot) cmdPause(_ context.Context, m *discordgo.Message, _ []string) {
	err := b.voices.Pause(m.GuildID)
	switch {
	case err == nil:
		b.replyOK(m, "Paused", fmt.Sprintf("Playback paused. Use `%sresume` to continue.", b.prefix))
	case errors.Is(err, voice.ErrNoConnection):
		b.replyError(m, "I'm not in a voice channel.")
	case errors.Is(err, transport.ErrNotPlaying):
		b.replyError(m, "Nothing is playing.")
	default:
		slog.Warn("discord: pause failed", "guild_id", m.GuildID, "err", err)
		b.replyError(m, "Could not pause playback.")
	}
}

func (b *Bot) cmdResume(_ context.Context, m *discordgo.Message, _ []string) {
	err := b.voices.Resume(m.GuildID)
	switch {
	case err == nil:
		b.replyOK(m, "Resumed", "Playback resumed.")
	case errors.Is(err, voice.ErrNoConnection):
		b.replyError(m, "I'm not in a voice channel.")
	case errors.Is(err, transport.ErrNotPaused):
		b.replyError(m, "Playback is not paused.")
	default:
		slog.Warn("discord: resume failed", "guild_id", m.GuildID, "err", err)
		b.replyError(m, "Could not resume playback.")
	}
}

func (b *Bot) cmdSkip(_ context.Context, m *discordgo.Message, _ []string) {
	err := b.voices.Stop(m.GuildID)
	switch {
	case err == nil:
		b.replyOK(m, "Skipped", "Skipped the current message.")
	case errors.Is(err, voice.ErrNoConnection):
		b.replyError(m, "I'm not in a voice channel.")
	case errors.Is(err, transport.ErrNotPlaying):
		b.replyError(m, "Nothing is playing.")
	default:
		slog.Warn("discord: skip failed", "guild_id", m.GuildID, "err", err)
		b.replyError(m, "Could not skip playback.")
	}
}

func (b *Bot) cmdStats(_ context.Context, m *discordgo.Message, _ []string) {
	qs := b.queue.Status(m.GuildID)
	cs := b.speech.CacheStats()
	lat := b.speech.Latency()
	br := b.speech.BreakerStats()

	voiceLine := "not connected"
	if st, ok := b.voices.Status(m.GuildID); ok && st.Connected {
		voiceLine = fmt.Sprintf("<#%s>", st.ChannelID)
		switch {
		case st.Paused:
			voiceLine += " (paused)"
		case st.Playing:
			voiceLine += " (playing)"
		}
		if st.LatencyKnown {
			voiceLine += fmt.Sprintf(", %s latency", st.Latency.Round(time.Millisecond))
		}
	}

	synthLine := "no samples yet"
	if lat.Count > 0 {
		synthLine = fmt.Sprintf("avg %s, min %s, max %s over %d requests",
			lat.Avg.Round(time.Millisecond), lat.Min.Round(time.Millisecond),
			lat.Max.Round(time.Millisecond), lat.Count)
	}

	b.reply(m, &discordgo.MessageEmbed{
		Title: "Stats",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Voice", Value: voiceLine},
			{Name: "Queue", Value: fmt.Sprintf("%d/%d messages", qs.Size, qs.MaxSize), Inline: true},
			{Name: "Cache", Value: fmt.Sprintf("%d/%d entries, %.0f%% hits", cs.Size, cs.MaxSize, cs.HitRate*100), Inline: true},
			{Name: "Circuit breaker", Value: fmt.Sprintf("%s (%d failures)", br.State, br.Failures), Inline: true},
			{Name: "Synthesis latency", Value: synthLine},
		},
	})
}

// cmdCleanup evicts every guild's queue and voice connection in one pass.
// Restricted to administrators.
func (b *Bot) cmdCleanup(ctx context.Context, m *discordgo.Message, _ []string) {
	if b.priority(m) != priorityAdmin {
		b.replyError(m, "You need administrator permissions for that.")
		return
	}

	guilds := make(map[string]struct{})
	for _, id := range b.voices.Guilds() {
		guilds[id] = struct{}{}
	}
	for _, id := range b.queue.Guilds() {
		guilds[id] = struct{}{}
	}
	for id := range guilds {
		b.queue.Remove(ctx, id)
		b.voices.Remove(ctx, id)
	}

	slog.Info("discord: resources cleaned up", "guilds", len(guilds), "requested_by", m.Author.ID)
	b.replyOK(m, "Cleanup", fmt.Sprintf("Cleaned up %d guild(s): queues drained, voice connections closed.", len(guilds)))
}
