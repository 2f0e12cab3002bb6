package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// AugPayload is the exchange format between the pipeline and an external
// augmentation backend. Masks travel as raw bitmaps so backends need no
// knowledge of the pipeline's container types.
type AugPayload struct {
	Image  *images.Image
	Boxes  []images.Box
	Labels []int
	Masks  [][]uint8
	// IndexMap names, for each surviving box, its index in the input payload.
	// Backends that drop boxes must keep it consistent; a nil map means all
	// boxes survived in order.
	IndexMap []int
}

// Augmenter is a pluggable external augmentation backend.
type Augmenter interface {
	Augment(rng *rand.Rand, p *AugPayload) (*AugPayload, error)
}

// ExternalAugmentConfig configures an ExternalAugment stage.
type ExternalAugmentConfig struct {
	// SkipWithoutAnnotations rejects samples whose augmented result has no
	// surviving ground-truth box.
	SkipWithoutAnnotations bool `json:"skip_without_annotations" yaml:"skip_without_annotations"`
	// UpdatePadShape propagates the augmented image shape into PadShape.
	UpdatePadShape bool `json:"update_pad_shape" yaml:"update_pad_shape"`
}

// ExternalAugment bridges a Record to an Augmenter backend: it flattens the
// record into an AugPayload, runs the backend, then recovers label and mask
// alignment from the returned index map.
type ExternalAugment struct {
	cfg ExternalAugmentConfig
	aug Augmenter
}

// NewExternalAugment wraps the given backend.
func NewExternalAugment(cfg ExternalAugmentConfig, aug Augmenter) (*ExternalAugment, error) {
	if aug == nil {
		return nil, errors.New("external augment: nil backend")
	}
	return &ExternalAugment{cfg: cfg, aug: aug}, nil
}

// Name implements Stage.
func (e *ExternalAugment) Name() string { return "ExternalAugment" }

// Apply implements Stage.
func (e *ExternalAugment) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	out := rec.Clone()

	payload := &AugPayload{
		Image:  out.Image,
		Boxes:  out.Boxes,
		Labels: out.Labels,
	}
	if out.Groups.Masks && out.Masks != nil {
		payload.Masks = out.Masks.Masks
	}

	res, err := e.aug.Augment(rng, payload)
	if err != nil {
		return nil, errors.Wrap(err, "external augment")
	}
	if res.Image == nil {
		return nil, errors.New("external augment: backend returned nil image")
	}

	out.Image = res.Image
	out.Shape = ShapeOf(res.Image)
	if e.cfg.UpdatePadShape {
		out.PadShape = out.Shape
	}

	if out.Groups.Boxes {
		out.Boxes = res.Boxes
		if res.IndexMap != nil {
			// Backend dropped boxes; recover the label alignment from the
			// survivor indices.
			if len(res.IndexMap) != len(res.Boxes) {
				return nil, errors.Errorf("external augment: %d boxes but %d index entries", len(res.Boxes), len(res.IndexMap))
			}
			out.Labels = selectInts(rec.Labels, res.IndexMap)
		} else if res.Labels != nil {
			out.Labels = res.Labels
		}
		if e.cfg.SkipWithoutAnnotations && len(out.Boxes) == 0 {
			return nil, Reject(e.Name(), "no ground-truth box survived augmentation")
		}
	}

	if out.Groups.Masks && res.Masks != nil {
		masks, err := images.NewBitmapMasks(res.Masks, res.Image.Height, res.Image.Width)
		if err != nil {
			return nil, errors.Wrap(err, "external augment: rebuild masks")
		}
		out.Masks = masks
	}
	return out, nil
}
