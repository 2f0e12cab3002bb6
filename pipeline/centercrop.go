package pipeline

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// TestPadMode selects how RandomCenterCropPad sizes its canvas at test time.
type TestPadMode string

const (
	// PadLogicalOr rounds each dimension up with a bitwise OR against the
	// pad value, e.g. 127 yields the next 128-aligned odd boundary.
	PadLogicalOr TestPadMode = "logical_or"
	// PadSizeDivisor rounds each dimension up to a multiple of the value.
	PadSizeDivisor TestPadMode = "size_divisor"
)

// RandomCenterCropPadConfig configures a RandomCenterCropPad stage.
type RandomCenterCropPadConfig struct {
	// CropSize is the (width, height) base crop extent for training.
	CropSize Scale `json:"crop_size" yaml:"crop_size"`
	// Ratios scale CropSize per attempt. Defaults to 0.9..1.1 in 0.1 steps.
	Ratios []float32 `json:"ratios" yaml:"ratios"`
	// Border is the margin kept between sampled centers and the image edge.
	Border int `json:"border" yaml:"border"`
	// Mean fills canvas regions outside the source image, per BGR channel.
	Mean [3]float32 `json:"mean" yaml:"mean"`
	// TestMode replaces random cropping with a deterministic centered pad.
	TestMode bool `json:"test_mode" yaml:"test_mode"`
	// TestPad and TestPadValue choose the canvas rounding at test time.
	TestPad      TestPadMode `json:"test_pad" yaml:"test_pad"`
	TestPadValue int         `json:"test_pad_value" yaml:"test_pad_value"`
	// MaxAttempts bounds the outer ratio-sampling loop in training mode;
	// exhausting it rejects the sample. Defaults to 10.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// RandomCenterCropPad crops a region around a randomly sampled center and
// pastes it onto a mean-filled canvas, keeping every ground-truth box center
// inside the crop. In test mode it instead pads the image symmetrically to an
// aligned canvas and records the placement border.
type RandomCenterCropPad struct {
	cfg RandomCenterCropPadConfig
}

// NewRandomCenterCropPad validates the configuration for the selected mode.
func NewRandomCenterCropPad(cfg RandomCenterCropPadConfig) (*RandomCenterCropPad, error) {
	if cfg.TestMode {
		switch cfg.TestPad {
		case PadLogicalOr, PadSizeDivisor:
		default:
			return nil, errors.Errorf("center crop pad: unknown test pad mode %q", cfg.TestPad)
		}
		if cfg.TestPadValue <= 0 {
			return nil, errors.Errorf("center crop pad: non-positive test pad value %d", cfg.TestPadValue)
		}
		return &RandomCenterCropPad{cfg: cfg}, nil
	}
	if cfg.CropSize.W <= 0 || cfg.CropSize.H <= 0 {
		return nil, errors.Errorf("center crop pad: non-positive crop size %dx%d", cfg.CropSize.W, cfg.CropSize.H)
	}
	if len(cfg.Ratios) == 0 {
		cfg.Ratios = []float32{0.9, 1.0, 1.1}
	}
	for _, r := range cfg.Ratios {
		if r <= 0 {
			return nil, errors.Errorf("center crop pad: non-positive ratio %v", r)
		}
	}
	if cfg.Border < 0 {
		return nil, errors.Errorf("center crop pad: negative border %d", cfg.Border)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.MaxAttempts < 0 {
		return nil, errors.Errorf("center crop pad: negative attempt cap %d", cfg.MaxAttempts)
	}
	return &RandomCenterCropPad{cfg: cfg}, nil
}

// Name implements Stage.
func (c *RandomCenterCropPad) Name() string { return "RandomCenterCropPad" }

// Apply implements Stage.
func (c *RandomCenterCropPad) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	if c.cfg.TestMode {
		return c.applyTest(rec)
	}
	return c.applyTrain(rng, rec)
}

func (c *RandomCenterCropPad) applyTrain(rng *rand.Rand, rec *Record) (*Record, error) {
	if !rec.Groups.Boxes {
		return nil, errors.New("center crop pad: box group must be active in training mode")
	}
	h, w := rec.Image.Height, rec.Image.Width

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		ratio := c.cfg.Ratios[rng.Intn(len(c.cfg.Ratios))]
		newH := int(float32(c.cfg.CropSize.H) * ratio)
		newW := int(float32(c.cfg.CropSize.W) * ratio)
		hBorder := shrinkBorder(c.cfg.Border, h)
		wBorder := shrinkBorder(c.cfg.Border, w)
		if w-wBorder <= wBorder || h-hBorder <= hBorder {
			continue
		}

		for i := 0; i < 50; i++ {
			centerX := wBorder + rng.Intn(w-2*wBorder)
			centerY := hBorder + rng.Intn(h-2*hBorder)

			canvas, border, patch := pasteAroundCenter(rec.Image, centerY, centerX, newH, newW, c.cfg.Mean)
			if len(rec.Boxes) > 0 && !anyCenterIn(patch, rec.Boxes) {
				continue
			}

			out := rec.Clone()
			out.Image = canvas
			out.Shape = ShapeOf(canvas)
			out.PadShape = out.Shape
			out.Border = border

			// Shift into canvas coordinates: undo the patch origin, then
			// apply the paste offset.
			dx := border[2] - patch.X1
			dy := border[0] - patch.Y1
			boxes, kept := centerFilterTranslate(out.Boxes, patch, dx, dy)
			out.Boxes = boxes
			out.Labels = selectInts(out.Labels, kept)
			ignored, keptIgnored := centerFilterTranslate(out.IgnoreBoxes, patch, dx, dy)
			out.IgnoreBoxes = ignored
			out.IgnoreLabels = selectInts(out.IgnoreLabels, keptIgnored)
			return out, nil
		}
	}
	return nil, Reject(c.Name(), "no valid center found in %d attempts", c.cfg.MaxAttempts)
}

func (c *RandomCenterCropPad) applyTest(rec *Record) (*Record, error) {
	h, w := rec.Image.Height, rec.Image.Width
	var targetH, targetW int
	switch c.cfg.TestPad {
	case PadLogicalOr:
		targetH = h | c.cfg.TestPadValue
		targetW = w | c.cfg.TestPadValue
	case PadSizeDivisor:
		d := c.cfg.TestPadValue
		targetH = (h + d - 1) / d * d
		targetW = (w + d - 1) / d * d
	}

	canvas, border, _ := pasteAroundCenter(rec.Image, h/2, w/2, targetH, targetW, c.cfg.Mean)
	out := rec.Clone()
	out.Image = canvas
	out.Shape = ShapeOf(canvas)
	out.PadShape = out.Shape
	out.Border = border
	return out, nil
}

// pasteAroundCenter copies the region of src around (centerY, centerX) onto a
// fill-colored canvas of the target size, centered. It returns the canvas,
// the placement border [top, bottom, left, right] in canvas coordinates and
// the source patch actually copied.
func pasteAroundCenter(src *images.Image, centerY, centerX, targetH, targetW int, fill [3]float32) (*images.Image, [4]float32, images.Box) {
	x0 := maxInt(0, centerX-targetW/2)
	x1 := minInt(centerX+targetW/2, src.Width)
	y0 := maxInt(0, centerY-targetH/2)
	y1 := minInt(centerY+targetH/2, src.Height)

	left, right := centerX-x0, x1-centerX
	top, bottom := centerY-y0, y1-centerY
	cx, cy := targetW/2, targetH/2

	canvas := images.NewFilled(targetH, targetW, fill[:])
	for y := 0; y < top+bottom; y++ {
		srcRow := (y0 + y) * src.Width * src.Channels
		dstRow := (cy - top + y) * targetW * src.Channels
		copy(canvas.Pix[dstRow+(cx-left)*src.Channels:dstRow+(cx+right)*src.Channels],
			src.Pix[srcRow+x0*src.Channels:srcRow+x1*src.Channels])
	}

	border := [4]float32{float32(cy - top), float32(cy + bottom), float32(cx - left), float32(cx + right)}
	patch := images.Box{X1: float32(x0), Y1: float32(y0), X2: float32(x1), Y2: float32(y1)}
	return canvas, border, patch
}

// shrinkBorder halves the margin until sampled centers fit inside the image.
func shrinkBorder(border, size int) int {
	if border == 0 {
		return 0
	}
	k := 2 * float64(border) / float64(size)
	exp := math32.Ceil(math32.Log2(math32.Ceil(float32(k))))
	if k == float64(int(k)) {
		exp++
	}
	i := 1
	for e := 0; e < int(exp); e++ {
		i *= 2
	}
	if i < 1 {
		i = 1
	}
	return border / i
}

// centerFilterTranslate keeps boxes whose center lies inside patch, clips
// them to the patch and shifts by (dx, dy).
func centerFilterTranslate(boxes []images.Box, patch images.Box, dx, dy float32) ([]images.Box, []int) {
	var kept []images.Box
	var indices []int
	for i, b := range boxes {
		if !patch.ContainsCenter(b) {
			continue
		}
		nb := images.Box{
			X1: math32.Max(b.X1, patch.X1) + dx,
			Y1: math32.Max(b.Y1, patch.Y1) + dy,
			X2: math32.Min(b.X2, patch.X2) + dx,
			Y2: math32.Min(b.Y2, patch.Y2) + dy,
		}
		if !nb.Valid() {
			continue
		}
		kept = append(kept, nb)
		indices = append(indices, i)
	}
	return kept, indices
}
