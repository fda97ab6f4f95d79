package health

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/cantor-bot/cantor/pkg/synth"
)

// DiscordChecker reports whether the bot's gateway session is alive, based on
// the last acknowledged heartbeat.
func DiscordChecker(session *discordgo.Session) Checker {
	return Checker{
		Name: "discord",
		Check: func(_ context.Context) error {
			if session.HeartbeatLatency() <= 0 {
				return errors.New("no heartbeat acknowledged yet")
			}
			return nil
		},
	}
}

// TTSChecker probes the synthesis engine by listing its voice catalogue.
func TTSChecker(provider synth.Provider) Checker {
	return Checker{
		Name: "tts",
		Check: func(ctx context.Context) error {
			voices, err := provider.Voices(ctx)
			if err != nil {
				return err
			}
			if len(voices) == 0 {
				return errors.New("no voices available")
			}
			return nil
		},
	}
}
