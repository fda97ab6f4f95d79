package speech

import (
	"sync"
	"time"
)

// latencyHistorySize bounds the number of synthesis latency samples kept for
// the in-process report.
const latencyHistorySize = 1000

// LatencyReport summarises recent synthesis latencies for status commands.
// OTel histograms carry the same signal to the scrape endpoint; this window
// exists so the bot can answer "how fast is synthesis right now" without a
// metrics backend.
type LatencyReport struct {
	Count int
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// latencyWindow is a bounded sliding window of duration samples.
// Safe for concurrent use.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
}

// record appends a sample, discarding the oldest once the window is full.
func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, d)
	if len(w.samples) > latencyHistorySize {
		w.samples = w.samples[len(w.samples)-latencyHistorySize:]
	}
}

// report computes the summary over the current window.
func (w *latencyWindow) report() LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := LatencyReport{Count: len(w.samples)}
	if r.Count == 0 {
		return r
	}

	var sum time.Duration
	r.Min = w.samples[0]
	r.Max = w.samples[0]
	for _, s := range w.samples {
		sum += s
		if s < r.Min {
			r.Min = s
		}
		if s > r.Max {
			r.Max = s
		}
	}
	r.Avg = sum / time.Duration(r.Count)
	return r
}
