package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/antzucaro/matchr"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cantor-bot/cantor/internal/observe"
	"github.com/cantor-bot/cantor/internal/resilience"
	"github.com/cantor-bot/cantor/pkg/synth"
)

// Sentinel errors returned by [Gateway.Generate]. Wrapped errors carry extra
// detail; match with [errors.Is].
var (
	// ErrVoiceNotFound is returned when the requested voice is not in the
	// engine's catalogue.
	ErrVoiceNotFound = errors.New("voice not found")

	// ErrServiceUnavailable is returned while the circuit breaker is open.
	ErrServiceUnavailable = errors.New("service temporarily unavailable")

	// ErrMessageTooLong is returned for text over the length bound.
	ErrMessageTooLong = errors.New("message too long (max 500 characters)")
)

// maxTextLength is the longest text accepted for synthesis, in characters.
const maxTextLength = 500

// suggestionThreshold is the minimum Jaro-Winkler similarity for offering a
// did-you-mean voice suggestion.
const suggestionThreshold = 0.8

// GatewayConfig holds the dependencies of a [Gateway]. Provider, Cache and
// Breaker are required; Metrics defaults to [observe.DefaultMetrics].
type GatewayConfig struct {
	Provider synth.Provider
	Cache    *Cache
	Breaker  *resilience.CircuitBreaker
	Metrics  *observe.Metrics
}

// Gateway orchestrates a single synthesis call: voice validation, circuit
// breaker check, cache lookup, length validation, streamed generation, WAV
// packaging, cache store and failure recording, in that order. The ordering
// determines which failure a caller observes for a given input; do not
// reorder.
//
// The Gateway, its cache and its breaker are engine-wide singletons shared by
// all tenants. Safe for concurrent use.
type Gateway struct {
	provider synth.Provider
	cache    *Cache
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	voices   []string
	latency  latencyWindow
}

// NewGateway creates a Gateway and fetches the voice catalogue from the
// provider. An engine with no voices is a construction error, not a runtime
// one: the bot cannot do anything useful without voices.
func NewGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, errors.New("speech: gateway requires a synthesis provider")
	}
	if cfg.Cache == nil {
		return nil, errors.New("speech: gateway requires a cache")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("speech: gateway requires a circuit breaker")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	voices, err := cfg.Provider.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech: list voices: %w", err)
	}
	if len(voices) == 0 {
		return nil, errors.New("speech: no voices available from the synthesis engine")
	}

	return &Gateway{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		breaker:  cfg.Breaker,
		metrics:  cfg.Metrics,
		voices:   voices,
	}, nil
}

// Voices returns the engine's voice catalogue as fetched at construction.
func (g *Gateway) Voices() []string {
	return slices.Clone(g.voices)
}

// DefaultVoice returns the catalogue's "default" entry if present, otherwise
// the first voice.
func (g *Gateway) DefaultVoice() string {
	if slices.Contains(g.voices, "default") {
		return "default"
	}
	return g.voices[0]
}

// Generate converts text to playable WAV audio.
//
// Check order: voice validation → circuit breaker → cache → length →
// generation. Note that the length check runs only after a cache miss: a
// cached entry's text already passed it when the entry was inserted.
func (g *Gateway) Generate(ctx context.Context, req synth.Request) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "speech.generate",
		trace.WithAttributes(
			attribute.String("voice", req.Voice),
			attribute.Int("text_length", len(req.Text)),
		),
	)
	defer span.End()

	// 1. Voice validation.
	if !slices.Contains(g.voices, req.Voice) {
		if suggestion := g.closestVoice(req.Voice); suggestion != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrVoiceNotFound, req.Voice, suggestion)
		}
		return nil, fmt.Errorf("%w: %q", ErrVoiceNotFound, req.Voice)
	}

	// 2. Circuit breaker.
	if g.breaker.IsOpen() {
		return nil, ErrServiceUnavailable
	}

	// 3. Cache lookup.
	cacheKey := Key{Text: req.Text, Voice: req.Voice, Speed: req.Speed, Language: req.Language}
	if audio, ok := g.cache.Get(cacheKey); ok {
		g.metrics.RecordCacheRequest(ctx, "hit")
		return audio, nil
	}
	g.metrics.RecordCacheRequest(ctx, "miss")

	// 4. Length validation.
	if len(req.Text) > maxTextLength {
		return nil, ErrMessageTooLong
	}

	// 5. Generation.
	start := time.Now()
	audio, err := g.synthesize(ctx, req)
	if err != nil {
		g.breaker.RecordFailure()
		g.metrics.RecordError(ctx, "synthesis")
		observe.Logger(ctx).Error("synthesis failed",
			"voice", req.Voice,
			"text_length", len(req.Text),
			"err", err,
		)
		return nil, err
	}

	// 6. Store and record.
	g.cache.Put(cacheKey, audio)
	elapsed := time.Since(start)
	g.metrics.SynthesisDuration.Record(ctx, elapsed.Seconds())
	g.latency.record(elapsed)

	slog.Debug("synthesis complete",
		"voice", req.Voice,
		"text_length", len(req.Text),
		"audio_bytes", len(audio),
		"duration", elapsed,
	)
	return audio, nil
}

// synthesize drains the provider's block stream and packages the concatenated
// PCM as a WAV container at the stream's sample rate.
func (g *Gateway) synthesize(ctx context.Context, req synth.Request) ([]byte, error) {
	blocks, errc, err := g.provider.SynthesizeStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("speech: start synthesis: %w", err)
	}

	var pcm []byte
	sampleRate := 0
	for b := range blocks {
		pcm = append(pcm, b.PCM...)
		if b.SampleRate > 0 {
			sampleRate = b.SampleRate
		}
	}
	select {
	case streamErr := <-errc:
		if streamErr != nil {
			return nil, fmt.Errorf("speech: synthesis stream: %w", streamErr)
		}
	default:
	}
	if len(pcm) == 0 {
		return nil, errors.New("speech: synthesis produced no audio")
	}

	audio, err := encodeWAV(pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// closestVoice returns the best fuzzy match for an unknown voice name, or ""
// when nothing is close enough.
func (g *Gateway) closestVoice(voice string) string {
	best := ""
	bestScore := suggestionThreshold
	for _, v := range g.voices {
		if score := matchr.JaroWinkler(voice, v, false); score > bestScore {
			best = v
			bestScore = score
		}
	}
	return best
}

// Latency returns the in-process synthesis latency report for status commands.
func (g *Gateway) Latency() LatencyReport {
	return g.latency.report()
}

// CacheStats exposes the cache snapshot for status commands.
func (g *Gateway) CacheStats() CacheStats {
	return g.cache.Stats()
}

// BreakerStats exposes the breaker snapshot for status commands.
func (g *Gateway) BreakerStats() resilience.Snapshot {
	return g.breaker.Stats()
}

// encodeWAV wraps little-endian int16 mono PCM in a WAV container at the
// given sample rate.
func encodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("speech: PCM payload not aligned to int16 samples")
	}
	if sampleRate <= 0 {
		return nil, errors.New("speech: synthesis stream reported no sample rate")
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   samples,
	}

	var out wavBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("speech: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("speech: close wav encoder: %w", err)
	}
	return out.data, nil
}
