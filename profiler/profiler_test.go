package profiler

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAggregates(t *testing.T) {
	p := New()
	p.Observe("detect", 10*time.Millisecond)
	p.Observe("detect", 30*time.Millisecond)
	p.Observe("embed", 5*time.Millisecond)

	count, total := p.Timing("detect")
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Millisecond, total)

	count, total = p.Timing("never")
	assert.Zero(t, count)
	assert.Zero(t, total)

	assert.Equal(t, []string{"detect", "embed"}, p.Phases())
}

func TestTrackRecordsOnError(t *testing.T) {
	p := New()
	sentinel := errors.New("boom")
	err := p.Track("flaky", func() error { return sentinel })
	assert.Equal(t, sentinel, err)

	count, _ := p.Timing("flaky")
	assert.Equal(t, int64(1), count, "failed runs still count")
}

func TestPhaseStopsOnCall(t *testing.T) {
	p := New()
	stop := p.Phase("work")
	time.Sleep(2 * time.Millisecond)
	stop()

	count, total := p.Timing("work")
	require.Equal(t, int64(1), count)
	assert.GreaterOrEqual(t, total, 2*time.Millisecond)
}

func TestReportListsPhasesInOrder(t *testing.T) {
	p := New()
	p.Observe("zulu", time.Millisecond)
	p.Observe("alpha", time.Millisecond)

	report := p.Report()
	assert.Less(t, strings.Index(report, "zulu"), strings.Index(report, "alpha"),
		"report keeps first-observation order")
	assert.Contains(t, report, "n=1")
	assert.Contains(t, report, "goroutines=")
}

func TestConcurrentObserve(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Observe("shared", time.Microsecond)
			}
		}()
	}
	wg.Wait()

	count, _ := p.Timing("shared")
	assert.Equal(t, int64(800), count)
}
