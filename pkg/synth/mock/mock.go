// Package mock provides an in-memory mock implementation of the
// [synth.Provider] interface for use in unit tests.
//
// The mock is safe for concurrent use. It records every call so tests can
// assert on call counts and arguments, and exposes exported fields the test
// can set to control return values.
//
// Typical usage:
//
//	p := &mock.Provider{
//	    VoicesResult: []string{"af_bella"},
//	    Blocks: []synth.Block{{PCM: []byte{1, 2}, SampleRate: 24000}},
//	}
//	blocks, errc, err := p.SynthesizeStream(ctx, synth.Request{Text: "hi", Voice: "af_bella"})
package mock

import (
	"context"
	"sync"

	"github.com/cantor-bot/cantor/pkg/synth"
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

// Provider is a mock implementation of [synth.Provider].
// Set the exported fields before use; inspect the Call* fields after.
type Provider struct {
	mu sync.Mutex

	// Blocks are emitted on the blocks channel, in order, by each
	// SynthesizeStream call.
	Blocks []synth.Block

	// StreamErr, when non-nil, is delivered on the error channel after all
	// Blocks have been emitted (simulates a mid-stream failure).
	StreamErr error

	// StartErr, when non-nil, is returned directly by SynthesizeStream
	// (simulates a request that cannot be started).
	StartErr error

	// VoicesResult is returned by [Provider.Voices].
	VoicesResult []string

	// VoicesErr is returned by [Provider.Voices].
	VoicesErr error

	// CallCountSynthesize records how many times SynthesizeStream was called.
	CallCountSynthesize int

	// CallCountVoices records how many times Voices was called.
	CallCountVoices int

	// Requests holds the requests passed to SynthesizeStream, in order.
	Requests []synth.Request
}

// SynthesizeStream implements [synth.Provider]. It emits Blocks in order,
// then StreamErr (if set) on the error channel, then closes both.
func (p *Provider) SynthesizeStream(ctx context.Context, req synth.Request) (<-chan synth.Block, <-chan error, error) {
	p.mu.Lock()
	p.CallCountSynthesize++
	p.Requests = append(p.Requests, req)
	blocks := make([]synth.Block, len(p.Blocks))
	copy(blocks, p.Blocks)
	streamErr := p.StreamErr
	startErr := p.StartErr
	p.mu.Unlock()

	if startErr != nil {
		return nil, nil, startErr
	}

	out := make(chan synth.Block, len(blocks))
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		for _, b := range blocks {
			select {
			case out <- b:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if streamErr != nil {
			errc <- streamErr
		}
	}()
	return out, errc, nil
}

// Voices implements [synth.Provider]. Returns VoicesResult and VoicesErr.
func (p *Provider) Voices(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountVoices++
	return p.VoicesResult, p.VoicesErr
}
