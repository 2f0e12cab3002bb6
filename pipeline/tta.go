package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// MultiScaleFlipAugConfig configures test-time augmentation views.
type MultiScaleFlipAugConfig struct {
	// Scales are the target scales; each produces one or more views.
	Scales []Scale `json:"scales" yaml:"scales"`
	// Flip adds a flipped view per scale and direction.
	Flip bool `json:"flip" yaml:"flip"`
	// FlipDirections defaults to horizontal when Flip is set.
	FlipDirections []images.FlipDirection `json:"flip_directions,omitempty" yaml:"flip_directions,omitempty"`
}

// MultiScaleFlipAug expands a record into one view per scale and flip
// combination, pinning the scale and flip decision before running each view
// through the inner pipeline so the randomized stages become deterministic.
type MultiScaleFlipAug struct {
	cfg   MultiScaleFlipAugConfig
	inner *Compose
}

// NewMultiScaleFlipAug validates scales and directions.
func NewMultiScaleFlipAug(cfg MultiScaleFlipAugConfig, inner *Compose) (*MultiScaleFlipAug, error) {
	if inner == nil {
		return nil, errors.New("multi-scale flip aug: nil inner pipeline")
	}
	if len(cfg.Scales) == 0 {
		return nil, errors.New("multi-scale flip aug: no scales")
	}
	for _, s := range cfg.Scales {
		if s.W <= 0 || s.H <= 0 {
			return nil, errors.Errorf("multi-scale flip aug: non-positive scale %dx%d", s.W, s.H)
		}
	}
	if cfg.Flip && len(cfg.FlipDirections) == 0 {
		cfg.FlipDirections = []images.FlipDirection{images.FlipHorizontal}
	}
	for _, d := range cfg.FlipDirections {
		switch d {
		case images.FlipHorizontal, images.FlipVertical, images.FlipDiagonal:
		default:
			return nil, errors.Errorf("multi-scale flip aug: unknown flip direction %q", d)
		}
	}
	return &MultiScaleFlipAug{cfg: cfg, inner: inner}, nil
}

// Views returns the number of records Apply produces per input.
func (a *MultiScaleFlipAug) Views() int {
	n := len(a.cfg.Scales)
	if a.cfg.Flip {
		n *= 1 + len(a.cfg.FlipDirections)
	}
	return n
}

// Apply produces the augmented views in scale-major order, the unflipped view
// first within each scale.
func (a *MultiScaleFlipAug) Apply(rng *rand.Rand, rec *Record) ([]*Record, error) {
	decisions := []FlipSpec{{Apply: false}}
	if a.cfg.Flip {
		for _, d := range a.cfg.FlipDirections {
			decisions = append(decisions, FlipSpec{Apply: true, Direction: d})
		}
	}

	views := make([]*Record, 0, len(a.cfg.Scales)*len(decisions))
	for _, scale := range a.cfg.Scales {
		for _, dec := range decisions {
			view := rec.Clone()
			s := scale
			view.TargetScale = &s
			d := dec
			view.FlipDecision = &d
			out, err := a.inner.Apply(rng, view)
			if err != nil {
				return nil, errors.Wrapf(err, "view %dx%d flip=%v", scale.W, scale.H, dec.Apply)
			}
			views = append(views, out)
		}
	}
	return views, nil
}
