package speech

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cantor-bot/cantor/internal/resilience"
	"github.com/cantor-bot/cantor/pkg/synth"
	synthmock "github.com/cantor-bot/cantor/pkg/synth/mock"
)

func newTestGateway(t *testing.T, provider *synthmock.Provider) *Gateway {
	t.Helper()
	g, err := NewGateway(context.Background(), GatewayConfig{
		Provider: provider,
		Cache:    NewCache(10, time.Minute),
		Breaker:  resilience.New(resilience.Config{Name: "synthesis", Threshold: 5, Recovery: time.Minute}),
	})
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return g
}

func testBlocks() []synth.Block {
	return []synth.Block{
		{PCM: []byte{0x01, 0x00, 0x02, 0x00}, SampleRate: 24000},
		{PCM: []byte{0x03, 0x00}, SampleRate: 24000},
	}
}

func TestNewGatewayNoVoices(t *testing.T) {
	_, err := NewGateway(context.Background(), GatewayConfig{
		Provider: &synthmock.Provider{},
		Cache:    NewCache(10, time.Minute),
		Breaker:  resilience.New(resilience.Config{}),
	})
	if err == nil {
		t.Fatal("NewGateway() with an empty voice catalogue should fail")
	}
}

func TestNewGatewayVoicesError(t *testing.T) {
	_, err := NewGateway(context.Background(), GatewayConfig{
		Provider: &synthmock.Provider{VoicesErr: errors.New("connection refused")},
		Cache:    NewCache(10, time.Minute),
		Breaker:  resilience.New(resilience.Config{}),
	})
	if err == nil {
		t.Fatal("NewGateway() should propagate the voice-listing error")
	}
}

func TestGenerateUnknownVoice(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella", "am_adam"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "zz_nobody"})
	if !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("Generate() error = %v, want ErrVoiceNotFound", err)
	}
	if p.CallCountSynthesize != 0 {
		t.Errorf("synthesis called %d times for an unknown voice, want 0", p.CallCountSynthesize)
	}
}

func TestGenerateUnknownVoiceSuggestion(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella", "am_adam"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bela"})
	if !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("Generate() error = %v, want ErrVoiceNotFound", err)
	}
	if !strings.Contains(err.Error(), "af_bella") {
		t.Errorf("error %q should suggest the close match af_bella", err)
	}
}

func TestGenerateSuccessProducesWAV(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	audio, err := g.Generate(context.Background(), synth.Request{Text: "hello", Voice: "af_bella", Speed: 1.0, Language: "en-us"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !bytes.HasPrefix(audio, []byte("RIFF")) {
		t.Errorf("audio does not start with a RIFF header: % x", audio[:min(len(audio), 12)])
	}
	if !bytes.Contains(audio[:12], []byte("WAVE")) {
		t.Errorf("audio header missing WAVE marker: % x", audio[:min(len(audio), 12)])
	}
	if p.CallCountSynthesize != 1 {
		t.Errorf("synthesis called %d times, want 1", p.CallCountSynthesize)
	}
}

func TestGenerateCacheHitSkipsSynthesis(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)
	req := synth.Request{Text: "hello", Voice: "af_bella", Speed: 1.0, Language: "en-us"}

	first, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	second, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if p.CallCountSynthesize != 1 {
		t.Errorf("synthesis called %d times, want 1 (second call should hit the cache)", p.CallCountSynthesize)
	}
	if !bytes.Equal(first, second) {
		t.Error("cached audio differs from the originally generated audio")
	}
}

func TestGenerateDifferentSpeedMissesCache(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	if _, err := g.Generate(context.Background(), synth.Request{Text: "hello", Voice: "af_bella", Speed: 1.0}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := g.Generate(context.Background(), synth.Request{Text: "hello", Voice: "af_bella", Speed: 1.5}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if p.CallCountSynthesize != 2 {
		t.Errorf("synthesis called %d times, want 2 (speed is part of the cache key)", p.CallCountSynthesize)
	}
}

func TestGenerateTooLong(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{
		Text:  strings.Repeat("a", maxTextLength+1),
		Voice: "af_bella",
	})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("Generate() error = %v, want ErrMessageTooLong", err)
	}
	if p.CallCountSynthesize != 0 {
		t.Errorf("synthesis called %d times for over-length text, want 0", p.CallCountSynthesize)
	}
}

func TestGenerateBoundaryLength(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, Blocks: testBlocks()}
	g := newTestGateway(t, p)

	if _, err := g.Generate(context.Background(), synth.Request{
		Text:  strings.Repeat("a", maxTextLength),
		Voice: "af_bella",
	}); err != nil {
		t.Fatalf("Generate() at the exact length bound should succeed, got %v", err)
	}
}

func TestGenerateFailureRecordsBreaker(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, StartErr: errors.New("engine down")}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bella"})
	if err == nil {
		t.Fatal("Generate() should propagate the synthesis failure")
	}
	if got := g.BreakerStats().Failures; got != 1 {
		t.Errorf("breaker failures = %d, want 1", got)
	}
}

func TestGenerateMidStreamFailureRecordsBreaker(t *testing.T) {
	p := &synthmock.Provider{
		VoicesResult: []string{"af_bella"},
		Blocks:       testBlocks(),
		StreamErr:    errors.New("stream reset"),
	}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bella"})
	if err == nil {
		t.Fatal("Generate() should surface a mid-stream failure")
	}
	if got := g.BreakerStats().Failures; got != 1 {
		t.Errorf("breaker failures = %d, want 1", got)
	}
	if g.CacheStats().Size != 0 {
		t.Error("partial audio from a failed stream must not be cached")
	}
}

func TestGenerateOpenBreakerFailsFast(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}, StartErr: errors.New("engine down")}
	g := newTestGateway(t, p)

	for range 5 {
		if _, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bella"}); err == nil {
			t.Fatal("Generate() should fail while the engine is down")
		}
	}
	callsBefore := p.CallCountSynthesize

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bella"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrServiceUnavailable", err)
	}
	if p.CallCountSynthesize != callsBefore {
		t.Error("an open breaker must short-circuit before the provider is called")
	}
}

func TestGenerateEmptyStream(t *testing.T) {
	p := &synthmock.Provider{VoicesResult: []string{"af_bella"}}
	g := newTestGateway(t, p)

	_, err := g.Generate(context.Background(), synth.Request{Text: "hi", Voice: "af_bella"})
	if err == nil {
		t.Fatal("Generate() should reject a stream that produced no audio")
	}
}

func TestDefaultVoice(t *testing.T) {
	tests := []struct {
		name   string
		voices []string
		want   string
	}{
		{name: "prefers default entry", voices: []string{"af_bella", "default"}, want: "default"},
		{name: "falls back to first", voices: []string{"af_bella", "am_adam"}, want: "af_bella"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, &synthmock.Provider{VoicesResult: tt.voices})
			if got := g.DefaultVoice(); got != tt.want {
				t.Errorf("DefaultVoice() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeWAVRejectsOddPayload(t *testing.T) {
	if _, err := encodeWAV([]byte{0x01}, 24000); err == nil {
		t.Fatal("encodeWAV() should reject a payload not aligned to int16")
	}
}
