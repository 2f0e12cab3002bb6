// Package profiler - lightweight phase timing and runtime statistics for the
// inference driver.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// timing accumulates the durations of one named phase.
type timing struct {
	total time.Duration
	min   time.Duration
	max   time.Duration
	count int64
}

// Profiler collects per-phase wall-clock timings. A phase may run more than
// once (per-batch model calls); the report aggregates count, total, min, max
// and mean. All methods are safe for concurrent use.
type Profiler struct {
	mu      sync.Mutex
	start   time.Time
	order   []string
	timings map[string]*timing
}

// New creates an empty profiler; the run clock starts immediately.
func New() *Profiler {
	return &Profiler{
		start:   time.Now(),
		timings: make(map[string]*timing),
	}
}

// Observe records one completed run of a phase.
//
// Arguments:
//   - name: The phase identifier; first observation fixes its report order.
//   - d: Wall-clock duration of this run.
func (p *Profiler) Observe(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timings[name]
	if !ok {
		t = &timing{min: d, max: d}
		p.timings[name] = t
		p.order = append(p.order, name)
	}
	t.total += d
	t.count++
	if d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
}

// Phase starts timing a phase and returns the function that stops it.
// Intended for defer at the top of the phase:
//
//	defer prof.Phase("detect")()
func (p *Profiler) Phase(name string) func() {
	begin := time.Now()
	return func() { p.Observe(name, time.Since(begin)) }
}

// Track times fn as one run of the named phase, recording the duration
// whether fn succeeds or fails.
func (p *Profiler) Track(name string, fn func() error) error {
	defer p.Phase(name)()
	return fn()
}

// Timing returns the aggregate for one phase: run count and total duration.
// A phase never observed reports zero for both.
func (p *Profiler) Timing(name string) (count int64, total time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timings[name]; ok {
		return t.count, t.total
	}
	return 0, 0
}

// Report renders the collected timings and current runtime statistics as a
// multi-line table, phases in first-observation order.
func (p *Profiler) Report() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run profile (elapsed %s)\n", time.Since(p.start).Round(time.Millisecond))
	for _, name := range p.order {
		t := p.timings[name]
		mean := t.total / time.Duration(t.count)
		fmt.Fprintf(&b, "  %-24s n=%-5d total=%-10s mean=%-10s min=%-10s max=%s\n",
			name, t.count,
			t.total.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			t.min.Round(time.Microsecond),
			t.max.Round(time.Microsecond))
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&b, "  heap=%s cumalloc=%s gc=%d goroutines=%d",
		formatBytes(mem.HeapAlloc), formatBytes(mem.TotalAlloc), mem.NumGC, runtime.NumGoroutine())
	return b.String()
}

// Phases returns the observed phase names sorted alphabetically.
func (p *Profiler) Phases() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.order...)
	sort.Strings(out)
	return out
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
