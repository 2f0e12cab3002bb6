package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// ExpandConfig configures an Expand stage.
type ExpandConfig struct {
	// Mean fills the enlarged canvas, per BGR channel.
	Mean [3]float32 `json:"mean" yaml:"mean"`
	// MinRatio and MaxRatio bound the canvas enlargement factor.
	MinRatio float32 `json:"min_ratio" yaml:"min_ratio"`
	MaxRatio float32 `json:"max_ratio" yaml:"max_ratio"`
	// Prob is the probability of expanding at all. Defaults to 0.5.
	Prob float32 `json:"prob" yaml:"prob"`
	// SegIgnoreLabel fills the enlarged segmentation canvas when the
	// segmentation group is active.
	SegIgnoreLabel float32 `json:"seg_ignore_label" yaml:"seg_ignore_label"`
}

// Expand pastes the image at a random offset onto a larger mean-filled canvas
// and translates boxes, masks and segmentation along with it.
type Expand struct {
	cfg ExpandConfig
}

// NewExpand validates the ratio range and applies defaults.
func NewExpand(cfg ExpandConfig) (*Expand, error) {
	if cfg.MinRatio < 1 || cfg.MinRatio > cfg.MaxRatio {
		return nil, errors.Errorf("expand: bad ratio range [%v, %v]", cfg.MinRatio, cfg.MaxRatio)
	}
	if cfg.Prob == 0 {
		cfg.Prob = 0.5
	}
	if cfg.Prob < 0 || cfg.Prob > 1 {
		return nil, errors.Errorf("expand: probability %v outside [0, 1]", cfg.Prob)
	}
	return &Expand{cfg: cfg}, nil
}

// Name implements Stage.
func (e *Expand) Name() string { return "Expand" }

// Apply implements Stage.
func (e *Expand) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	if rng.Float32() >= e.cfg.Prob {
		return out, nil
	}

	h, w := out.Image.Height, out.Image.Width
	ratio := uniform(rng, e.cfg.MinRatio, e.cfg.MaxRatio)
	newH := int(float32(h) * ratio)
	newW := int(float32(w) * ratio)
	top := rng.Intn(newH - h + 1)
	left := rng.Intn(newW - w + 1)

	canvas := images.NewFilled(newH, newW, e.cfg.Mean[:])
	pasteAt(canvas, out.Image, top, left)
	out.Image = canvas
	out.Shape = ShapeOf(canvas)
	out.PadShape = out.Shape

	if out.Groups.Boxes {
		for i := range out.Boxes {
			out.Boxes[i] = out.Boxes[i].Translate(float32(left), float32(top))
		}
		for i := range out.IgnoreBoxes {
			out.IgnoreBoxes[i] = out.IgnoreBoxes[i].Translate(float32(left), float32(top))
		}
	}
	if out.Groups.Masks && out.Masks != nil {
		masks, err := out.Masks.Expand(newH, newW, top, left)
		if err != nil {
			return nil, err
		}
		out.Masks = masks
	}
	if out.Groups.Seg && out.SegMap != nil {
		segFill := make([]float32, out.SegMap.Channels)
		for i := range segFill {
			segFill[i] = e.cfg.SegIgnoreLabel
		}
		segCanvas := images.NewFilled(newH, newW, segFill)
		pasteAt(segCanvas, out.SegMap, top, left)
		out.SegMap = segCanvas
	}
	return out, nil
}

// pasteAt copies src into dst with its top-left corner at (top, left).
// Channel counts must match; src must fit inside dst.
func pasteAt(dst, src *images.Image, top, left int) {
	for y := 0; y < src.Height; y++ {
		srcRow := y * src.Width * src.Channels
		dstRow := ((top+y)*dst.Width + left) * dst.Channels
		copy(dst.Pix[dstRow:dstRow+src.Width*src.Channels], src.Pix[srcRow:srcRow+src.Width*src.Channels])
	}
}
