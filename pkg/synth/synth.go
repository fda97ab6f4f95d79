// Package synth defines the Provider interface for speech synthesis backends.
//
// A synthesis provider wraps a TTS engine (e.g., a local Kokoro server) and
// presents a uniform streaming interface: given text, a voice, a speed factor
// and a language, it yields raw PCM sample blocks as they are produced. The
// gateway layer concatenates the blocks and packages them as playable audio.
//
// Implementations must be safe for concurrent use.
//
// This package lives under pkg/ because external code (third-party engine
// adapters) is expected to implement [Provider].
package synth

import "context"

// Request holds the parameters of a single synthesis call. The full tuple
// identifies the utterance: two requests with identical fields produce
// identical audio and may be deduplicated by callers.
type Request struct {
	// Text is the utterance to synthesise.
	Text string

	// Voice is the engine-specific voice identifier.
	Voice string

	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default).
	Speed float64

	// Language is the language code (e.g., "en-us").
	Language string
}

// Block is one increment of synthesised audio: little-endian int16 mono PCM
// plus the sample rate it was produced at. A stream's blocks normally share
// one sample rate; the last reported rate wins.
type Block struct {
	PCM        []byte
	SampleRate int
}

// Provider is the abstraction over any speech synthesis backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per tenant being served).
type Provider interface {
	// SynthesizeStream starts synthesis of req and returns a channel of PCM
	// blocks in production order. The blocks channel is closed when the
	// stream ends; the stream is finite and not restartable.
	//
	// The returned error channel is buffered and carries at most one value:
	// a mid-stream failure. Callers must drain blocks until it closes, then
	// receive from errc to learn whether the stream completed cleanly.
	//
	// A non-nil error return means the stream could not be started at all.
	SynthesizeStream(ctx context.Context, req Request) (blocks <-chan Block, errc <-chan error, err error)

	// Voices returns the identifiers of all voices available from this
	// provider. The catalogue may change between calls if the underlying
	// engine adds or removes voices.
	Voices(ctx context.Context) ([]string, error)
}
