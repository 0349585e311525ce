package capture

import "sort"

// latencyWindowSize is the number of samples kept by LatencyWindow.
const latencyWindowSize = 100

// LatencyWindow keeps the most recent request-to-frame latencies (milliseconds)
// in a ring buffer.
//
// Not safe for concurrent use; the Coordinator guards it with its mutex.
type LatencyWindow struct {
	Samples [latencyWindowSize]float64
	Index   int // next write position
	Count   int // valid samples, capped at len(Samples)
}

// AddSample records one latency, overwriting the oldest once the window is full.
func (w *LatencyWindow) AddSample(ms float64) {
	w.Samples[w.Index] = ms
	w.Index = (w.Index + 1) % len(w.Samples)
	if w.Count < len(w.Samples) {
		w.Count++
	}
}

// GetStats returns mean, p95 and max over the window. An empty window yields
// zeros.
func (w *LatencyWindow) GetStats() (mean, p95, max float64) {
	if w.Count == 0 {
		return 0, 0, 0
	}

	sorted := make([]float64, w.Count)
	copy(sorted, w.Samples[:w.Count])
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean = sum / float64(len(sorted))
	p95 = sorted[int(0.95*float64(len(sorted)-1))]
	max = sorted[len(sorted)-1]
	return mean, p95, max
}
