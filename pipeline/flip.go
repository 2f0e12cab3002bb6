package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// JointRandomFlipConfig configures a JointRandomFlip stage.
type JointRandomFlipConfig struct {
	// Ratio is the total flip probability, split evenly across Directions
	// unless Ratios gives per-direction probabilities.
	Ratio float32 `json:"ratio" yaml:"ratio"`
	// Ratios optionally gives one probability per direction; mutually
	// exclusive with Ratio.
	Ratios []float32 `json:"ratios" yaml:"ratios"`
	// Directions are the candidate flip axes. Defaults to horizontal.
	Directions []images.FlipDirection `json:"directions" yaml:"directions"`
}

// JointRandomFlip flips the image and every active annotation group together.
// A pinned FlipDecision (from a TTA wrapper) overrides sampling.
type JointRandomFlip struct {
	directions []images.FlipDirection
	ratios     []float32
}

// NewJointRandomFlip validates probabilities and directions.
func NewJointRandomFlip(cfg JointRandomFlipConfig) (*JointRandomFlip, error) {
	dirs := cfg.Directions
	if len(dirs) == 0 {
		dirs = []images.FlipDirection{images.FlipHorizontal}
	}
	for _, d := range dirs {
		switch d {
		case images.FlipHorizontal, images.FlipVertical, images.FlipDiagonal:
		default:
			return nil, errors.Errorf("flip: invalid direction %q", d)
		}
	}

	var ratios []float32
	switch {
	case len(cfg.Ratios) > 0:
		if cfg.Ratio != 0 {
			return nil, errors.New("flip: ratio and ratios are mutually exclusive")
		}
		if len(cfg.Ratios) != len(dirs) {
			return nil, errors.Errorf("flip: %d ratios for %d directions", len(cfg.Ratios), len(dirs))
		}
		var sum float32
		for _, r := range cfg.Ratios {
			if r < 0 {
				return nil, errors.Errorf("flip: negative ratio %v", r)
			}
			sum += r
		}
		if sum > 1 {
			return nil, errors.Errorf("flip: ratios sum to %v > 1", sum)
		}
		ratios = cfg.Ratios
	default:
		if cfg.Ratio < 0 || cfg.Ratio > 1 {
			return nil, errors.Errorf("flip: ratio %v outside [0, 1]", cfg.Ratio)
		}
		per := cfg.Ratio / float32(len(dirs))
		ratios = make([]float32, len(dirs))
		for i := range ratios {
			ratios[i] = per
		}
	}
	return &JointRandomFlip{directions: dirs, ratios: ratios}, nil
}

// Name implements Stage.
func (f *JointRandomFlip) Name() string { return "JointRandomFlip" }

// Apply implements Stage.
func (f *JointRandomFlip) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()

	decision := out.FlipDecision
	if decision == nil {
		draw := rng.Float32()
		var acc float32
		spec := FlipSpec{}
		for i, r := range f.ratios {
			acc += r
			if draw < acc {
				spec = FlipSpec{Apply: true, Direction: f.directions[i]}
				break
			}
		}
		decision = &spec
	}
	out.FlipDecision = decision
	out.Flipped = decision.Apply
	if decision.Apply {
		out.FlipDirection = decision.Direction
	}
	if !decision.Apply {
		return out, nil
	}

	dir := decision.Direction
	out.Image = images.Flip(out.Image, dir)
	if out.Groups.Boxes {
		out.Boxes = images.FlipBoxes(out.Boxes, out.Shape.Height, out.Shape.Width, dir)
		out.IgnoreBoxes = images.FlipBoxes(out.IgnoreBoxes, out.Shape.Height, out.Shape.Width, dir)
	}
	if out.Groups.Masks && out.Masks != nil {
		masks, err := out.Masks.Flip(dir)
		if err != nil {
			return nil, err
		}
		out.Masks = masks
	}
	if out.Groups.Seg && out.SegMap != nil {
		out.SegMap = images.Flip(out.SegMap, dir)
	}
	return out, nil
}
