// Package kokoro provides a [synth.Provider] backed by a locally-running
// Kokoro FastAPI TTS server (github.com/remsky/Kokoro-FastAPI).
//
// Synthesis is performed via POST /v1/audio/speech with response_format "pcm"
// and stream enabled: the server writes raw little-endian int16 mono PCM as a
// chunked HTTP body while the model is still generating, and the provider
// re-emits it as [synth.Block] values in arrival order. The voice catalogue
// is retrieved from GET /v1/audio/voices.
//
// Typical usage:
//
//	p, err := kokoro.New("http://localhost:8880",
//	    kokoro.WithTimeout(30*time.Second),
//	)
//	blocks, errc, err := p.SynthesizeStream(ctx, synth.Request{
//	    Text: "hello", Voice: "af_bella", Speed: 1.0, Language: "en-us",
//	})
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cantor-bot/cantor/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

const (
	speechEndpoint = "/v1/audio/speech"
	voicesEndpoint = "/v1/audio/voices"

	defaultTimeout = 60 * time.Second
	defaultModel   = "kokoro"

	// nativeSampleRate is the sample rate Kokoro produces PCM at.
	nativeSampleRate = 24000

	// blockSize is the PCM payload size of each emitted [synth.Block].
	blockSize = 4096

	// blockChanBuf is the buffer depth of the returned block channel.
	blockChanBuf = 64
)

// Option is a functional option for configuring a Kokoro Provider.
type Option func(*Provider)

// WithTimeout sets the total per-request HTTP timeout, covering the full
// streamed response. Defaults to 60 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithModel overrides the model name sent to the server. Defaults to "kokoro".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the underlying HTTP client. Useful in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements [synth.Provider] backed by a Kokoro FastAPI server.
// It is safe for concurrent use; multiple streams may run in parallel.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Provider targeting the Kokoro server at serverURL
// (e.g., "http://localhost:8880"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		model:     defaultModel,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body sent to POST /v1/audio/speech.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	LangCode       string  `json:"lang_code,omitempty"`
	ResponseFormat string  `json:"response_format"`
	Stream         bool    `json:"stream"`
}

// voicesResponse is the JSON body returned by GET /v1/audio/voices.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// SynthesizeStream starts synthesis of req and streams the resulting PCM as
// fixed-size blocks. The blocks channel closes at end of stream; errc carries
// at most one mid-stream error. A non-nil error return means the request was
// rejected before any audio was produced.
func (p *Provider) SynthesizeStream(ctx context.Context, req synth.Request) (<-chan synth.Block, <-chan error, error) {
	body := speechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          req.Voice,
		Speed:          req.Speed,
		LangCode:       langCode(req.Language),
		ResponseFormat: "pcm",
		Stream:         true,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("kokoro: marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+speechEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("kokoro: create speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("kokoro: POST %s: %w", speechEndpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := readErrorBody(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("kokoro: POST %s returned status %d: %s", speechEndpoint, resp.StatusCode, msg)
	}

	blocks := make(chan synth.Block, blockChanBuf)
	errc := make(chan error, 1)

	go func() {
		defer resp.Body.Close()
		defer close(blocks)

		buf := make([]byte, blockSize)
		for {
			n, readErr := io.ReadFull(resp.Body, buf)
			if n > 0 {
				pcm := make([]byte, n)
				copy(pcm, buf[:n])
				select {
				case blocks <- synth.Block{PCM: pcm, SampleRate: nativeSampleRate}:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			switch {
			case readErr == nil:
				continue
			case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
				return
			default:
				errc <- fmt.Errorf("kokoro: read PCM stream: %w", readErr)
				return
			}
		}
	}()

	return blocks, errc, nil
}

// Voices returns the voice identifiers available on the server.
func (p *Provider) Voices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kokoro: create voices request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kokoro: GET %s returned status %d", voicesEndpoint, resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("kokoro: decode voices response: %w", err)
	}
	return vr.Voices, nil
}

// langCode maps a full language tag to Kokoro's single-letter lang_code.
// Unknown tags are passed through empty so the server infers from the voice.
func langCode(language string) string {
	lang := strings.ToLower(language)
	switch {
	case strings.HasPrefix(lang, "en-gb"):
		return "b"
	case strings.HasPrefix(lang, "en"):
		return "a"
	case strings.HasPrefix(lang, "es"):
		return "e"
	case strings.HasPrefix(lang, "fr"):
		return "f"
	case strings.HasPrefix(lang, "hi"):
		return "h"
	case strings.HasPrefix(lang, "it"):
		return "i"
	case strings.HasPrefix(lang, "ja"):
		return "j"
	case strings.HasPrefix(lang, "pt"):
		return "p"
	case strings.HasPrefix(lang, "zh"):
		return "z"
	default:
		return ""
	}
}

// readErrorBody extracts a short error detail from a non-200 response body.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	return strings.TrimSpace(string(data))
}
