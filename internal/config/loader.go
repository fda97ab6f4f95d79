package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cantor-bot/cantor/internal/voice"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with the engine defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.CommandPrefix == "" {
		cfg.Discord.CommandPrefix = "!"
	}
	if cfg.Discord.DeleteDelaySeconds == 0 {
		cfg.Discord.DeleteDelaySeconds = 15
	}
	if cfg.TTS.TimeoutSeconds == 0 {
		cfg.TTS.TimeoutSeconds = 30
	}
	if cfg.TTS.DefaultVoice == "" {
		cfg.TTS.DefaultVoice = "default"
	}
	if cfg.TTS.DefaultLanguage == "" {
		cfg.TTS.DefaultLanguage = "en-us"
	}
	if cfg.Dispatch.MaxQueueSize == 0 {
		cfg.Dispatch.MaxQueueSize = 100
	}
	if cfg.Dispatch.MessageTTLSeconds == 0 {
		cfg.Dispatch.MessageTTLSeconds = 300
	}
	if cfg.Dispatch.MaxCacheSize == 0 {
		cfg.Dispatch.MaxCacheSize = 1000
	}
	if cfg.Dispatch.CacheTTLSeconds == 0 {
		cfg.Dispatch.CacheTTLSeconds = 3600
	}
	if cfg.Dispatch.CircuitBreakerThreshold == 0 {
		cfg.Dispatch.CircuitBreakerThreshold = 5
	}
	if cfg.Dispatch.CircuitBreakerRecoverySeconds == 0 {
		cfg.Dispatch.CircuitBreakerRecoverySeconds = 300
	}
	if cfg.Dispatch.CleanupPolicy == "" {
		cfg.Dispatch.CleanupPolicy = voice.PolicyTeardown
	}
	if cfg.Dispatch.IdleCleanupSeconds == 0 {
		cfg.Dispatch.IdleCleanupSeconds = 300
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.DeleteDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("discord.delete_delay %d must not be negative", cfg.Discord.DeleteDelaySeconds))
	}
	if cfg.TTS.ServerURL == "" {
		errs = append(errs, errors.New("tts.server_url is required"))
	}
	if cfg.TTS.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("tts.timeout %d must be positive", cfg.TTS.TimeoutSeconds))
	}
	if cfg.Dispatch.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_queue_size %d must be positive", cfg.Dispatch.MaxQueueSize))
	}
	if cfg.Dispatch.MessageTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.message_ttl %d must be positive", cfg.Dispatch.MessageTTLSeconds))
	}
	if cfg.Dispatch.MaxCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_cache_size %d must be positive", cfg.Dispatch.MaxCacheSize))
	}
	if cfg.Dispatch.CacheTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.cache_ttl %d must be positive", cfg.Dispatch.CacheTTLSeconds))
	}
	if cfg.Dispatch.CircuitBreakerThreshold <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.circuit_breaker_threshold %d must be positive", cfg.Dispatch.CircuitBreakerThreshold))
	}
	if cfg.Dispatch.CircuitBreakerRecoverySeconds <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.circuit_breaker_recovery %d must be positive", cfg.Dispatch.CircuitBreakerRecoverySeconds))
	}
	if cfg.Dispatch.IdleCleanupSeconds <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.idle_cleanup_interval %d must be positive", cfg.Dispatch.IdleCleanupSeconds))
	}
	if !cfg.Dispatch.CleanupPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("dispatch.cleanup_policy %q is invalid; valid values: halt, teardown", cfg.Dispatch.CleanupPolicy))
	}

	return errors.Join(errs...)
}
