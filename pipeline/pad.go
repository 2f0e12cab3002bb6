package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// PadConfig configures a Pad stage. Exactly one of Size and SizeDivisor must
// be set.
type PadConfig struct {
	// Size pads to a fixed (width, height).
	Size *Scale `json:"size" yaml:"size"`
	// SizeDivisor pads to the next multiple of this value on both axes.
	SizeDivisor int `json:"size_divisor" yaml:"size_divisor"`
	// Value is the image fill value.
	Value float32 `json:"value" yaml:"value"`
	// SegValue is the segmentation-map fill value (typically the ignore
	// label).
	SegValue float32 `json:"seg_value" yaml:"seg_value"`
}

// Pad grows the image (and masks/segmentation map) bottom-right to a fixed
// size or to a size divisible by a configured divisor.
type Pad struct {
	cfg PadConfig
}

// NewPad validates that exactly one padding mode is configured.
func NewPad(cfg PadConfig) (*Pad, error) {
	if (cfg.Size == nil) == (cfg.SizeDivisor == 0) {
		return nil, errors.New("pad: exactly one of size and size_divisor must be set")
	}
	if cfg.SizeDivisor < 0 {
		return nil, errors.Errorf("pad: negative size divisor %d", cfg.SizeDivisor)
	}
	if cfg.Size != nil && (cfg.Size.W <= 0 || cfg.Size.H <= 0) {
		return nil, errors.Errorf("pad: non-positive size %dx%d", cfg.Size.W, cfg.Size.H)
	}
	return &Pad{cfg: cfg}, nil
}

// Name implements Stage.
func (p *Pad) Name() string { return "Pad" }

// Apply implements Stage.
func (p *Pad) Apply(_ *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()

	var img *images.Image
	var err error
	if p.cfg.Size != nil {
		img, err = images.Pad(out.Image, p.cfg.Size.H, p.cfg.Size.W, []float32{p.cfg.Value})
	} else {
		img, err = images.PadToMultiple(out.Image, p.cfg.SizeDivisor, []float32{p.cfg.Value})
	}
	if err != nil {
		return nil, err
	}
	out.Image = img
	out.PadShape = ShapeOf(img)

	if out.Groups.Masks && out.Masks != nil {
		masks, err := out.Masks.Pad(out.PadShape.Height, out.PadShape.Width)
		if err != nil {
			return nil, err
		}
		out.Masks = masks
	}
	if out.Groups.Seg && out.SegMap != nil {
		seg, err := images.Pad(out.SegMap, out.PadShape.Height, out.PadShape.Width, []float32{p.cfg.SegValue})
		if err != nil {
			return nil, err
		}
		out.SegMap = seg
	}
	return out, nil
}

// NormalizeConfig configures a Normalize stage.
type NormalizeConfig struct {
	Mean  [3]float32 `json:"mean" yaml:"mean"`
	Std   [3]float32 `json:"std" yaml:"std"`
	ToRGB bool       `json:"to_rgb" yaml:"to_rgb"`
}

// Normalize standardizes the image channels and records the parameters so
// downstream consumers can invert them.
type Normalize struct {
	cfg NormalizeConfig
}

// NewNormalize validates the standard deviations.
func NewNormalize(cfg NormalizeConfig) (*Normalize, error) {
	for i, s := range cfg.Std {
		if s == 0 {
			return nil, errors.Errorf("normalize: zero std for channel %d", i)
		}
	}
	return &Normalize{cfg: cfg}, nil
}

// Name implements Stage.
func (n *Normalize) Name() string { return "Normalize" }

// Apply implements Stage.
func (n *Normalize) Apply(_ *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	img, err := images.Normalize(out.Image, n.cfg.Mean[:], n.cfg.Std[:], n.cfg.ToRGB)
	if err != nil {
		return nil, err
	}
	out.Image = img
	out.Norm = &NormParams{Mean: n.cfg.Mean, Std: n.cfg.Std, ToRGB: n.cfg.ToRGB}
	return out, nil
}
