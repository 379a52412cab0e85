package metrics

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ring keeps the most recent samples of a series.
type ring struct {
	buf  []float64
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]float64, n)}
}

func (r *ring) add(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) values() []float64 {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	out := make([]float64, n)
	copy(out, r.buf[:n])
	return out
}

// Percentiles of a sample series.
type Percentiles struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

func percentiles(samples []float64) Percentiles {
	if len(samples) == 0 {
		return Percentiles{}
	}
	sort.Float64s(samples)
	return Percentiles{
		Count: len(samples),
		P50:   stat.Quantile(0.5, stat.Empirical, samples, nil),
		P90:   stat.Quantile(0.9, stat.Empirical, samples, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, samples, nil),
		Max:   samples[len(samples)-1],
	}
}
