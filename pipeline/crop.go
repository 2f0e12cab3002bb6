package pipeline

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// JointRandomCropConfig configures a JointRandomCrop stage.
type JointRandomCropConfig struct {
	// Size is the expected (width, height) after cropping. Images smaller
	// than the crop size pass through unchanged on that axis.
	Size Scale `json:"size" yaml:"size"`
	// AllowNegative keeps crops that contain no ground-truth box instead of
	// rejecting the sample.
	AllowNegative bool `json:"allow_negative" yaml:"allow_negative"`
}

// JointRandomCrop crops the image at a uniformly random offset and keeps the
// box/label/mask arrays index-aligned. Crops that lose every ground-truth box
// reject the sample unless negative crops are allowed.
type JointRandomCrop struct {
	cfg JointRandomCropConfig
}

// NewJointRandomCrop validates the crop size.
func NewJointRandomCrop(cfg JointRandomCropConfig) (*JointRandomCrop, error) {
	if cfg.Size.W <= 0 || cfg.Size.H <= 0 {
		return nil, errors.Errorf("random crop: non-positive size %dx%d", cfg.Size.W, cfg.Size.H)
	}
	return &JointRandomCrop{cfg: cfg}, nil
}

// Name implements Stage.
func (c *JointRandomCrop) Name() string { return "JointRandomCrop" }

// Apply implements Stage.
func (c *JointRandomCrop) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()

	marginH := maxInt(out.Image.Height-c.cfg.Size.H, 0)
	marginW := maxInt(out.Image.Width-c.cfg.Size.W, 0)
	offH := rng.Intn(marginH + 1)
	offW := rng.Intn(marginW + 1)
	patch := images.Box{
		X1: float32(offW), Y1: float32(offH),
		X2: float32(offW + c.cfg.Size.W), Y2: float32(offH + c.cfg.Size.H),
	}

	img, err := images.Crop(out.Image, patch)
	if err != nil {
		return nil, err
	}
	out.Image = img
	out.Shape = ShapeOf(img)
	out.PadShape = out.Shape

	if out.Groups.Boxes {
		boxes, valid := translateClipBoxes(out.Boxes, -float32(offW), -float32(offH), out.Shape)
		if len(valid) == 0 && !c.cfg.AllowNegative {
			return nil, Reject(c.Name(), "crop at (%d, %d) contains no ground-truth box", offW, offH)
		}
		out.Boxes = boxes
		out.Labels = selectInts(out.Labels, valid)
		if out.Groups.Masks && out.Masks != nil {
			masks, err := out.Masks.Select(valid).Crop(patch)
			if err != nil {
				return nil, err
			}
			out.Masks = masks
		}
		ignored, validIgnored := translateClipBoxes(out.IgnoreBoxes, -float32(offW), -float32(offH), out.Shape)
		out.IgnoreBoxes = ignored
		out.IgnoreLabels = selectInts(out.IgnoreLabels, validIgnored)
	}
	if out.Groups.Seg && out.SegMap != nil {
		seg, err := images.Crop(out.SegMap, patch)
		if err != nil {
			return nil, err
		}
		out.SegMap = seg
	}
	return out, nil
}

// translateClipBoxes shifts boxes by (dx, dy), clips to shape and drops
// degenerate results, returning the surviving boxes and their source indices.
func translateClipBoxes(boxes []images.Box, dx, dy float32, shape Shape) ([]images.Box, []int) {
	var kept []images.Box
	var valid []int
	for i, b := range boxes {
		nb := b.Translate(dx, dy).Clip(shape.Height, shape.Width)
		if nb.Valid() {
			kept = append(kept, nb)
			valid = append(valid, i)
		}
	}
	return kept, valid
}

func selectInts(vals []int, indices []int) []int {
	if vals == nil {
		return nil
	}
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		out = append(out, vals[i])
	}
	return out
}

// MinIoURandomCropConfig configures a MinIoURandomCrop stage.
type MinIoURandomCropConfig struct {
	// MinIoUs are the candidate IoU thresholds; one is drawn per attempt,
	// alongside the implicit "keep original" mode and a zero threshold.
	MinIoUs []float32 `json:"min_ious" yaml:"min_ious"`
	// MinCropSize is the minimum crop extent as a fraction of the original.
	MinCropSize float32 `json:"min_crop_size" yaml:"min_crop_size"`
	// MaxAttempts bounds the outer mode-sampling loop. When exhausted the
	// image passes through unchanged, so the stage always terminates.
	// Defaults to 50.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// MinIoURandomCrop samples crop patches whose IoU with every ground-truth box
// meets a randomly drawn threshold and which contain at least one box center.
type MinIoURandomCrop struct {
	cfg   MinIoURandomCropConfig
	modes []float32 // NaN marks "keep original"
}

// NewMinIoURandomCrop validates thresholds and applies defaults.
func NewMinIoURandomCrop(cfg MinIoURandomCropConfig) (*MinIoURandomCrop, error) {
	if len(cfg.MinIoUs) == 0 {
		cfg.MinIoUs = []float32{0.1, 0.3, 0.5, 0.7, 0.9}
	}
	for _, iou := range cfg.MinIoUs {
		if iou < 0 || iou > 1 {
			return nil, errors.Errorf("min-iou crop: threshold %v outside [0, 1]", iou)
		}
	}
	if cfg.MinCropSize <= 0 || cfg.MinCropSize > 1 {
		return nil, errors.Errorf("min-iou crop: min crop size %v outside (0, 1]", cfg.MinCropSize)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 50
	}
	if cfg.MaxAttempts < 0 {
		return nil, errors.Errorf("min-iou crop: negative attempt cap %d", cfg.MaxAttempts)
	}
	modes := make([]float32, 0, len(cfg.MinIoUs)+2)
	modes = append(modes, math32.NaN())
	modes = append(modes, cfg.MinIoUs...)
	modes = append(modes, 0)
	return &MinIoURandomCrop{cfg: cfg, modes: modes}, nil
}

// Name implements Stage.
func (c *MinIoURandomCrop) Name() string { return "MinIoURandomCrop" }

// Apply implements Stage.
func (c *MinIoURandomCrop) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	if !rec.Groups.Boxes {
		return nil, errors.New("min-iou crop: box group must be active")
	}
	h, w := rec.Image.Height, rec.Image.Width
	allBoxes := append(images.CloneBoxes(rec.Boxes), rec.IgnoreBoxes...)

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		mode := c.modes[rng.Intn(len(c.modes))]
		if math32.IsNaN(mode) {
			// Keep-original mode; the only draw guaranteed to terminate.
			return rec.Clone(), nil
		}
		minIoU := mode

		for i := 0; i < 50; i++ {
			newW := c.cfg.MinCropSize*float32(w) + rng.Float32()*(1-c.cfg.MinCropSize)*float32(w)
			newH := c.cfg.MinCropSize*float32(h) + rng.Float32()*(1-c.cfg.MinCropSize)*float32(h)
			if newH/newW < 0.5 || newH/newW > 2 {
				continue
			}

			left := rng.Float32() * (float32(w) - newW)
			top := rng.Float32() * (float32(h) - newH)
			patch := images.Box{
				X1: float32(int(left)), Y1: float32(int(top)),
				X2: float32(int(left + newW)), Y2: float32(int(top + newH)),
			}
			if patch.X2 == patch.X1 || patch.Y2 == patch.Y1 {
				continue
			}

			overlaps := images.Overlaps(patch, allBoxes)
			if minOf(overlaps) < minIoU {
				continue
			}
			// Ignore-box centers count toward acceptance too, same as the
			// concatenated set the IoU check runs over.
			if len(allBoxes) > 0 && !anyCenterIn(patch, allBoxes) {
				continue
			}
			return c.commit(rec, patch)
		}
	}
	// Attempt budget exhausted: fall back to the untouched image rather than
	// looping forever.
	return rec.Clone(), nil
}

// commit applies an accepted patch to every active field group.
func (c *MinIoURandomCrop) commit(rec *Record, patch images.Box) (*Record, error) {
	out := rec.Clone()

	if len(out.Boxes) > 0 || len(out.IgnoreBoxes) > 0 {
		boxes, kept := centerFilterBoxes(out.Boxes, patch)
		out.Boxes = boxes
		out.Labels = selectInts(out.Labels, kept)
		if out.Groups.Masks && out.Masks != nil {
			masks, err := out.Masks.Select(kept).Crop(patch)
			if err != nil {
				return nil, err
			}
			out.Masks = masks
		}
		ignored, keptIgnored := centerFilterBoxes(out.IgnoreBoxes, patch)
		out.IgnoreBoxes = ignored
		out.IgnoreLabels = selectInts(out.IgnoreLabels, keptIgnored)
	}

	img, err := images.Crop(out.Image, patch)
	if err != nil {
		return nil, err
	}
	out.Image = img
	out.Shape = ShapeOf(img)
	out.PadShape = out.Shape

	if out.Groups.Seg && out.SegMap != nil {
		seg, err := images.Crop(out.SegMap, patch)
		if err != nil {
			return nil, err
		}
		out.SegMap = seg
	}
	return out, nil
}

// centerFilterBoxes keeps boxes whose center is inside patch, clips them to
// the patch and shifts into patch coordinates.
func centerFilterBoxes(boxes []images.Box, patch images.Box) ([]images.Box, []int) {
	var kept []images.Box
	var indices []int
	for i, b := range boxes {
		if !patch.ContainsCenter(b) {
			continue
		}
		nb := images.Box{
			X1: math32.Max(b.X1, patch.X1),
			Y1: math32.Max(b.Y1, patch.Y1),
			X2: math32.Min(b.X2, patch.X2),
			Y2: math32.Min(b.Y2, patch.Y2),
		}.Translate(-patch.X1, -patch.Y1)
		kept = append(kept, nb)
		indices = append(indices, i)
	}
	return kept, indices
}

func anyCenterIn(patch images.Box, boxes []images.Box) bool {
	for _, b := range boxes {
		if patch.ContainsCenter(b) {
			return true
		}
	}
	return false
}

func minOf(vals []float32) float32 {
	if len(vals) == 0 {
		// No boxes means no IoU constraint.
		return math32.Inf(1)
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
