package pipeline

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// MultiScaleMode selects how JointResize picks a target scale per call.
type MultiScaleMode string

const (
	// ModeValue picks one of the configured candidate scales uniformly.
	ModeValue MultiScaleMode = "value"
	// ModeRange samples long and short edges independently and uniformly
	// from the intervals bounded by exactly two configured scales.
	ModeRange MultiScaleMode = "range"
	// ModeRatioRange scales a single base size by a ratio sampled uniformly
	// from [MinRatio, MaxRatio].
	ModeRatioRange MultiScaleMode = "ratio"
)

// JointResizeConfig configures a JointResize stage. Exactly one multiscale
// mode must be legal for the given fields; contradictions fail at
// construction.
type JointResizeConfig struct {
	// Scales are the candidate or bounding target sizes.
	Scales []Scale `json:"scales" yaml:"scales"`
	// Mode selects the sampling strategy.
	Mode MultiScaleMode `json:"mode" yaml:"mode"`
	// MinRatio and MaxRatio bound the sampled ratio in ModeRatioRange.
	MinRatio float32 `json:"min_ratio" yaml:"min_ratio"`
	MaxRatio float32 `json:"max_ratio" yaml:"max_ratio"`
	// KeepRatio selects keep-aspect-ratio rescaling over exact resizing.
	KeepRatio bool `json:"keep_ratio" yaml:"keep_ratio"`
}

// JointResize resizes the image and rescales boxes, masks and the
// segmentation map by the same factors, keeping every field that maps into
// the image's coordinate space consistent.
type JointResize struct {
	cfg JointResizeConfig
}

// NewJointResize validates the configuration and builds the stage.
//
// Arguments:
//   - cfg: Stage configuration; see JointResizeConfig.
//
// Returns:
//   - *JointResize: The stage.
//   - error: A configuration error when the mode and fields contradict.
func NewJointResize(cfg JointResizeConfig) (*JointResize, error) {
	switch cfg.Mode {
	case ModeRatioRange:
		if len(cfg.Scales) != 1 {
			return nil, errors.Errorf("resize: ratio mode needs exactly one base scale, got %d", len(cfg.Scales))
		}
		if cfg.MinRatio <= 0 || cfg.MinRatio > cfg.MaxRatio {
			return nil, errors.Errorf("resize: invalid ratio range [%v, %v]", cfg.MinRatio, cfg.MaxRatio)
		}
	case ModeRange:
		if len(cfg.Scales) != 2 {
			return nil, errors.Errorf("resize: range mode needs exactly two bounding scales, got %d", len(cfg.Scales))
		}
		if cfg.MinRatio != 0 || cfg.MaxRatio != 0 {
			return nil, errors.New("resize: ratio range and range mode are mutually exclusive")
		}
	case ModeValue:
		if len(cfg.Scales) == 0 {
			return nil, errors.New("resize: value mode needs at least one candidate scale")
		}
		if cfg.MinRatio != 0 || cfg.MaxRatio != 0 {
			return nil, errors.New("resize: ratio range and value mode are mutually exclusive")
		}
	default:
		return nil, errors.Errorf("resize: unknown multiscale mode %q", cfg.Mode)
	}
	for _, s := range cfg.Scales {
		if s.W <= 0 || s.H <= 0 {
			return nil, errors.Errorf("resize: non-positive scale %dx%d", s.W, s.H)
		}
	}
	return &JointResize{cfg: cfg}, nil
}

// Name implements Stage.
func (j *JointResize) Name() string { return "JointResize" }

// sampleScale draws one target scale according to the configured mode.
func (j *JointResize) sampleScale(rng *rand.Rand) Scale {
	switch j.cfg.Mode {
	case ModeRatioRange:
		ratio := j.cfg.MinRatio + rng.Float32()*(j.cfg.MaxRatio-j.cfg.MinRatio)
		base := j.cfg.Scales[0]
		return Scale{W: int(float32(base.W) * ratio), H: int(float32(base.H) * ratio)}
	case ModeRange:
		a, b := j.cfg.Scales[0], j.cfg.Scales[1]
		longLo, longHi := minInt(a.Long(), b.Long()), maxInt(a.Long(), b.Long())
		shortLo, shortHi := minInt(a.Short(), b.Short()), maxInt(a.Short(), b.Short())
		long := longLo + rng.Intn(longHi-longLo+1)
		short := shortLo + rng.Intn(shortHi-shortLo+1)
		return Scale{W: long, H: short}
	default: // ModeValue
		return j.cfg.Scales[rng.Intn(len(j.cfg.Scales))]
	}
}

// Apply implements Stage.
func (j *JointResize) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()

	scale := out.TargetScale
	if scale == nil {
		s := j.sampleScale(rng)
		scale = &s
	}

	var img *images.Image
	var wScale, hScale float32
	if j.cfg.KeepRatio {
		img, wScale, hScale = images.Rescale(out.Image, scale.Long(), scale.Short(), images.InterpBilinear)
	} else {
		img, wScale, hScale = images.Resize(out.Image, scale.H, scale.W, images.InterpBilinear)
	}
	out.Image = img
	out.Shape = ShapeOf(img)
	// In case no padding stage follows.
	out.PadShape = out.Shape
	out.ScaleFactor = ScaleFactor{W: wScale, H: hScale}
	out.KeepRatio = j.cfg.KeepRatio

	if out.Groups.Boxes {
		out.Boxes = scaleClipBoxes(out.Boxes, wScale, hScale, out.Shape)
		out.IgnoreBoxes = scaleClipBoxes(out.IgnoreBoxes, wScale, hScale, out.Shape)
	}
	if out.Groups.Masks && out.Masks != nil {
		var masks *images.BitmapMasks
		var err error
		if j.cfg.KeepRatio {
			masks, err = out.Masks.Rescale(scale.Long(), scale.Short())
		} else {
			masks, err = out.Masks.Resize(out.Shape.Height, out.Shape.Width)
		}
		if err != nil {
			return nil, err
		}
		out.Masks = masks
	}
	if out.Groups.Seg && out.SegMap != nil {
		var seg *images.Image
		if j.cfg.KeepRatio {
			seg, _, _ = images.Rescale(out.SegMap, scale.Long(), scale.Short(), images.InterpNearest)
		} else {
			seg, _, _ = images.Resize(out.SegMap, out.Shape.Height, out.Shape.Width, images.InterpNearest)
		}
		out.SegMap = seg
	}
	return out, nil
}

func scaleClipBoxes(boxes []images.Box, wScale, hScale float32, shape Shape) []images.Box {
	out := make([]images.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Scale(wScale, hScale).Clip(shape.Height, shape.Width)
	}
	return out
}

// LetterResizeConfig configures a LetterResize stage.
type LetterResizeConfig struct {
	// Scale is the target canvas size.
	Scale Scale `json:"scale" yaml:"scale"`
	// Color is the padding fill value per channel.
	Color [3]float32 `json:"color" yaml:"color"`
	// Auto pads only up to the next multiple of Stride instead of the full
	// canvas (minimum rectangle).
	Auto bool `json:"auto" yaml:"auto"`
	// Stride is the alignment used when Auto is set. Defaults to 64.
	Stride int `json:"stride" yaml:"stride"`
	// ScaleUp allows upscaling images smaller than the canvas.
	ScaleUp bool `json:"scale_up" yaml:"scale_up"`
}

// LetterResize scales the image to fit the target canvas while keeping aspect
// ratio, then pads symmetrically to the canvas (or to the next stride
// multiple), recording the pad offsets.
type LetterResize struct {
	cfg LetterResizeConfig
}

// NewLetterResize builds the stage, applying the default stride.
func NewLetterResize(cfg LetterResizeConfig) (*LetterResize, error) {
	if cfg.Scale.W <= 0 || cfg.Scale.H <= 0 {
		return nil, errors.Errorf("letter resize: non-positive scale %dx%d", cfg.Scale.W, cfg.Scale.H)
	}
	if cfg.Stride == 0 {
		cfg.Stride = 64
	}
	if cfg.Stride < 0 {
		return nil, errors.Errorf("letter resize: negative stride %d", cfg.Stride)
	}
	return &LetterResize{cfg: cfg}, nil
}

// Name implements Stage.
func (l *LetterResize) Name() string { return "LetterResize" }

// Apply implements Stage.
func (l *LetterResize) Apply(_ *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()
	h, w := out.Image.Height, out.Image.Width

	r := math32.Min(float32(l.cfg.Scale.H)/float32(h), float32(l.cfg.Scale.W)/float32(w))
	if !l.cfg.ScaleUp {
		r = math32.Min(r, 1)
	}
	newW := int(math32.Round(float32(w) * r))
	newH := int(math32.Round(float32(h) * r))

	dw := float32(l.cfg.Scale.W - newW)
	dh := float32(l.cfg.Scale.H - newH)
	if l.cfg.Auto {
		dw = float32(int(dw) % l.cfg.Stride)
		dh = float32(int(dh) % l.cfg.Stride)
	}
	dw /= 2
	dh /= 2

	img := out.Image
	if newW != w || newH != h {
		img, _, _ = images.Resize(img, newH, newW, images.InterpBilinear)
	}
	out.Shape = ShapeOf(img)
	out.ScaleFactor = ScaleFactor{W: r, H: r}
	out.KeepRatio = true

	top := int(math32.Round(dh - 0.1))
	bottom := int(math32.Round(dh + 0.1))
	left := int(math32.Round(dw - 0.1))
	right := int(math32.Round(dw + 0.1))

	canvas := images.NewFilled(newH+top+bottom, newW+left+right, l.cfg.Color[:])
	for y := 0; y < newH; y++ {
		srcOff := y * newW * img.Channels
		dstOff := ((y+top)*canvas.Width + left) * img.Channels
		copy(canvas.Pix[dstOff:dstOff+newW*img.Channels], img.Pix[srcOff:srcOff+newW*img.Channels])
	}
	out.Image = canvas
	out.PadShape = ShapeOf(canvas)
	out.PadOffsets = [4]float32{float32(top), float32(bottom), float32(left), float32(right)}

	if out.Groups.Boxes {
		out.Boxes = shiftScaleBoxes(out.Boxes, r, float32(left), float32(top))
		out.IgnoreBoxes = shiftScaleBoxes(out.IgnoreBoxes, r, float32(left), float32(top))
	}
	return out, nil
}

func shiftScaleBoxes(boxes []images.Box, r, dx, dy float32) []images.Box {
	out := make([]images.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Scale(r, r).Translate(dx, dy)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
