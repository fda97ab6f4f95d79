// Package settings holds per-guild and per-user speech preferences: voice,
// speed, language and whether the bot deletes the source message after
// speaking it.
//
// Resolution is layered: engine defaults, then the guild's overrides, then
// the user's. Overrides are sparse: only the fields a guild or user actually
// set are stored, so changing a default later reaches everyone who never
// overrode it.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Speed bounds accepted by validation.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Settings is a fully-resolved set of speech preferences.
type Settings struct {
	Voice      string
	Speed      float64
	Language   string
	AutoDelete bool
}

// Defaults returns the engine defaults. An empty voice or language falls back
// to "default" and "en-us".
func Defaults(voice, language string) Settings {
	if voice == "" {
		voice = "default"
	}
	if language == "" {
		language = "en-us"
	}
	return Settings{
		Voice:      voice,
		Speed:      1.0,
		Language:   language,
		AutoDelete: true,
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if s.Voice == "" {
		errs = append(errs, errors.New("voice must not be empty"))
	}
	if s.Speed < MinSpeed || s.Speed > MaxSpeed {
		errs = append(errs, fmt.Errorf("speed %.2f out of range [%.1f, %.1f]", s.Speed, MinSpeed, MaxSpeed))
	}
	if s.Language == "" {
		errs = append(errs, errors.New("language must not be empty"))
	}
	return errors.Join(errs...)
}

// Override is a sparse set of preference changes. Nil fields inherit from the
// layer below.
type Override struct {
	Voice      *string  `json:"voice,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Language   *string  `json:"language,omitempty"`
	AutoDelete *bool    `json:"auto_delete,omitempty"`
}

// IsEmpty reports whether the override changes nothing.
func (o *Override) IsEmpty() bool {
	return o == nil || (o.Voice == nil && o.Speed == nil && o.Language == nil && o.AutoDelete == nil)
}

// apply layers o on top of s.
func (s Settings) apply(o *Override) Settings {
	if o == nil {
		return s
	}
	if o.Voice != nil {
		s.Voice = *o.Voice
	}
	if o.Speed != nil {
		s.Speed = *o.Speed
	}
	if o.Language != nil {
		s.Language = *o.Language
	}
	if o.AutoDelete != nil {
		s.AutoDelete = *o.AutoDelete
	}
	return s
}

// Manager resolves layered preferences from a [Store]. Safe for concurrent
// use when the store is.
type Manager struct {
	store    Store
	defaults Settings
}

// NewManager creates a Manager over the given store and defaults.
func NewManager(store Store, defaults Settings) *Manager {
	return &Manager{store: store, defaults: defaults}
}

// Defaults returns the engine defaults the manager resolves against.
func (m *Manager) Defaults() Settings {
	return m.defaults
}

// Resolve returns the user's effective preferences. Store failures degrade to
// whatever layers already resolved, so a flaky database never silences the
// bot; the error is still returned for logging.
func (m *Manager) Resolve(ctx context.Context, guildID, userID string) (Settings, error) {
	resolved := m.defaults
	var errs []error

	guild, err := m.store.GetGuild(ctx, guildID)
	if err != nil {
		errs = append(errs, fmt.Errorf("settings: guild overrides for %s: %w", guildID, err))
	} else {
		resolved = resolved.apply(guild)
	}

	user, err := m.store.GetUser(ctx, guildID, userID)
	if err != nil {
		errs = append(errs, fmt.Errorf("settings: user overrides for %s/%s: %w", guildID, userID, err))
	} else {
		resolved = resolved.apply(user)
	}
	return resolved, errors.Join(errs...)
}

// SetUserVoice stores a voice override for the user.
func (m *Manager) SetUserVoice(ctx context.Context, guildID, userID, voice string) error {
	if voice == "" {
		return errors.New("settings: voice must not be empty")
	}
	return m.updateUser(ctx, guildID, userID, func(o *Override) { o.Voice = &voice })
}

// SetUserSpeed stores a speed override for the user, validating the range.
func (m *Manager) SetUserSpeed(ctx context.Context, guildID, userID string, speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("settings: speed %.2f out of range [%.1f, %.1f]", speed, MinSpeed, MaxSpeed)
	}
	return m.updateUser(ctx, guildID, userID, func(o *Override) { o.Speed = &speed })
}

// SetUserLanguage stores a language override for the user. Codes are
// normalised to lower case.
func (m *Manager) SetUserLanguage(ctx context.Context, guildID, userID, language string) error {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return errors.New("settings: language must not be empty")
	}
	return m.updateUser(ctx, guildID, userID, func(o *Override) { o.Language = &language })
}

// SetUserAutoDelete stores an auto-delete override for the user.
func (m *Manager) SetUserAutoDelete(ctx context.Context, guildID, userID string, autoDelete bool) error {
	return m.updateUser(ctx, guildID, userID, func(o *Override) { o.AutoDelete = &autoDelete })
}

// ResetUser drops all of the user's overrides.
func (m *Manager) ResetUser(ctx context.Context, guildID, userID string) error {
	return m.store.DeleteUser(ctx, guildID, userID)
}

// updateUser read-modify-writes the user's override record.
func (m *Manager) updateUser(ctx context.Context, guildID, userID string, mutate func(*Override)) error {
	o, err := m.store.GetUser(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if o == nil {
		o = &Override{}
	}
	mutate(o)
	if err := m.store.SetUser(ctx, guildID, userID, o); err != nil {
		return err
	}
	slog.Debug("user settings updated", "guild_id", guildID, "user_id", userID)
	return nil
}
