package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Workers is the number of samples prepared concurrently. Defaults to 1.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// Seed makes sample preparation reproducible; each sample derives its
	// own generator from Seed and its index.
	Seed int64 `json:"seed" yaml:"seed"`
	// TestMode turns pipeline rejections into errors instead of resampling.
	TestMode bool `json:"test_mode" yaml:"test_mode"`
	// MaxResamples bounds the rejection-resample loop per slot. Defaults
	// to 25.
	MaxResamples int `json:"max_resamples,omitempty" yaml:"max_resamples,omitempty"`
}

// Loader prepares dataset samples through a pipeline with a bounded worker
// pool. When a training sample is rejected mid-pipeline, the loader draws a
// replacement index from the same aspect-ratio group and tries again.
type Loader struct {
	grouped *Grouped
	pipe    *pipeline.Compose
	cfg     LoaderConfig
}

// NewLoader validates the configuration and applies defaults.
func NewLoader(grouped *Grouped, pipe *pipeline.Compose, cfg LoaderConfig) (*Loader, error) {
	if grouped == nil || pipe == nil {
		return nil, errors.New("loader: nil dataset or pipeline")
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Workers < 0 {
		return nil, errors.Errorf("loader: negative worker count %d", cfg.Workers)
	}
	if cfg.MaxResamples == 0 {
		cfg.MaxResamples = 25
	}
	if cfg.MaxResamples < 0 {
		return nil, errors.Errorf("loader: negative resample cap %d", cfg.MaxResamples)
	}
	return &Loader{grouped: grouped, pipe: pipe, cfg: cfg}, nil
}

// Sample prepares one sample, resampling within the aspect-ratio group when
// the pipeline rejects it.
func (l *Loader) Sample(rng *rand.Rand, idx int) (*pipeline.Record, error) {
	current := idx
	for attempt := 0; ; attempt++ {
		rec, err := l.grouped.LoadRecord(current)
		if err != nil {
			return nil, err
		}
		out, err := l.pipe.Apply(rng, rec)
		if err == nil {
			return out, nil
		}
		if !pipeline.IsRejection(err) || l.cfg.TestMode {
			return nil, err
		}
		if attempt >= l.cfg.MaxResamples {
			return nil, errors.Wrapf(err, "sample %d: still rejected after %d resamples", idx, l.cfg.MaxResamples)
		}
		current = l.grouped.RandAnother(rng, current)
	}
}

// Batch prepares the given indices concurrently, preserving order.
func (l *Loader) Batch(ctx context.Context, indices []int) ([]*pipeline.Record, error) {
	out := make([]*pipeline.Record, len(indices))
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	workers := l.cfg.Workers
	if workers > len(indices) {
		workers = len(indices)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				if ctx.Err() != nil {
					return
				}
				rng := rand.New(rand.NewSource(l.cfg.Seed + int64(indices[slot])))
				rec, err := l.Sample(rng, indices[slot])
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = errors.Wrapf(err, "batch slot %d", slot)
				}
				out[slot] = rec
				mu.Unlock()
			}
		}()
	}

feed:
	for slot := range indices {
		select {
		case jobs <- slot:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "batch")
	}
	return out, nil
}
