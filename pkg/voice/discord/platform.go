// Package discord provides a [voice.Transport] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges the
// bot's WAV playback pipeline with Discord's Opus-based voice transport.
//
// The transport requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Transport.Connect] joins the specified guild voice
// channel and returns a [Connection] with single-track playback control.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Transport = (*Transport)(nil)

// Transport implements [voice.Transport] over a discordgo session.
// Safe for concurrent use.
type Transport struct {
	session *discordgo.Session
}

// New creates a Transport for the given session.
func New(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

// Connect joins the voice channel identified by guildID and channelID.
// The supplied ctx governs the connection-setup phase only; once the
// Connection is returned it lives until [Connection.Disconnect] is called.
func (t *Transport) Connect(ctx context.Context, guildID, channelID string) (voice.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// mute=false (we send audio), deaf=true (we never consume incoming audio).
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, t.session, guildID, channelID), nil
}
