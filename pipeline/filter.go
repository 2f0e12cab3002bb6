package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"
)

// BoxFilterConfig configures a BoxFilter stage.
type BoxFilterConfig struct {
	// MinSize drops boxes whose width or height falls below it.
	MinSize float32 `json:"min_size" yaml:"min_size"`
	// MaxAspectRatio drops boxes whose max(w/h, h/w) exceeds it.
	// Zero disables the check.
	MaxAspectRatio float32 `json:"max_aspect_ratio,omitempty" yaml:"max_aspect_ratio,omitempty"`
}

// BoxFilter drops degenerate ground-truth boxes and keeps the label and mask
// arrays index-aligned with the survivors.
type BoxFilter struct {
	cfg BoxFilterConfig
}

// NewBoxFilter validates the thresholds.
func NewBoxFilter(cfg BoxFilterConfig) (*BoxFilter, error) {
	if cfg.MinSize < 0 {
		return nil, errors.Errorf("box filter: negative min size %v", cfg.MinSize)
	}
	if cfg.MaxAspectRatio < 0 {
		return nil, errors.Errorf("box filter: negative max aspect ratio %v", cfg.MaxAspectRatio)
	}
	return &BoxFilter{cfg: cfg}, nil
}

// Name implements Stage.
func (f *BoxFilter) Name() string { return "BoxFilter" }

// Apply implements Stage.
func (f *BoxFilter) Apply(_ *rand.Rand, rec *Record) (*Record, error) {
	if !rec.Groups.Boxes {
		return nil, errors.New("box filter: box group must be active")
	}
	out := rec.Clone()

	var kept []int
	for i, b := range out.Boxes {
		w, h := b.Width(), b.Height()
		if w < f.cfg.MinSize || h < f.cfg.MinSize {
			continue
		}
		if f.cfg.MaxAspectRatio > 0 {
			ar := w / h
			if h > w {
				ar = h / w
			}
			if ar > f.cfg.MaxAspectRatio {
				continue
			}
		}
		kept = append(kept, i)
	}
	if len(kept) == len(out.Boxes) {
		return out, nil
	}

	filtered := out.Boxes[:0:0]
	for _, i := range kept {
		filtered = append(filtered, out.Boxes[i])
	}
	out.Boxes = filtered
	out.Labels = selectInts(out.Labels, kept)
	if out.Groups.Masks && out.Masks != nil {
		out.Masks = out.Masks.Select(kept)
	}
	return out, nil
}
