package roi

import (
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// MaskPred holds a mask branch's sigmoid probability maps for a set of RoIs,
// one fixed-resolution map per RoI and class, stored row-major.
type MaskPred struct {
	Data             []float32
	N, Classes, H, W int
}

// NewMaskPred validates the layout against the backing slice length.
func NewMaskPred(data []float32, n, classes, h, w int) (*MaskPred, error) {
	if len(data) != n*classes*h*w {
		return nil, errors.Errorf("mask pred: %d values for shape (%d, %d, %d, %d)", len(data), n, classes, h, w)
	}
	return &MaskPred{Data: data, N: n, Classes: classes, H: h, W: w}, nil
}

// Slice returns the predictions for RoIs [lo, hi).
func (p *MaskPred) Slice(lo, hi int) *MaskPred {
	stride := p.Classes * p.H * p.W
	return &MaskPred{Data: p.Data[lo*stride : hi*stride], N: hi - lo, Classes: p.Classes, H: p.H, W: p.W}
}

// mapAt returns the probability map for one RoI and class.
func (p *MaskPred) mapAt(roi, class int) []float32 {
	stride := p.H * p.W
	base := (roi*p.Classes + class) * stride
	return p.Data[base : base+stride]
}

// MaskHead turns probability maps into binary instance masks.
type MaskHead interface {
	// NumClasses is the number of foreground classes.
	NumClasses() int
	// Masks pastes each RoI's probability map into the original image frame
	// and thresholds it, grouping the resulting bitmaps per class. Boxes are
	// in view coordinates; when rescale is set they are divided by the scale
	// factor before pasting.
	Masks(pred *MaskPred, boxes []images.Box, labels []int, origShape pipeline.Shape,
		sf pipeline.ScaleFactor, rescale bool) ([]*images.BitmapMasks, error)
}

// MaskForward runs the mask branch of the network on the features of one
// augmented view.
type MaskForward func(view int, rois []RoI) (*MaskPred, error)

// SimpleTestMasks runs the mask branch once for a whole batch of detections
// and decodes each image's masks individually.
//
// Arguments:
//   - head: The mask decoding contract.
//   - forward: Mask branch forward pass; view index is always 0.
//   - dets: Per-image detections from the box stage.
//   - metas: Per-image view bookkeeping.
//   - rescale: Whether dets are already in the original image frame.
//
// Returns:
//   - [][]*images.BitmapMasks: Per image, per class, the instance bitmaps.
//   - error: Non-nil on forward or decode failures.
func SimpleTestMasks(head MaskHead, forward MaskForward, dets [][]Detection,
	metas []pipeline.Meta, rescale bool) ([][]*images.BitmapMasks, error) {

	if len(dets) != len(metas) {
		return nil, errors.Errorf("simple test masks: %d detection lists but %d metas", len(dets), len(metas))
	}
	results := make([][]*images.BitmapMasks, len(dets))

	empty := true
	for _, d := range dets {
		if len(d) > 0 {
			empty = false
			break
		}
	}
	if empty {
		for i := range results {
			results[i] = emptyClassMasks(head.NumClasses(), metas[i].OrigShape)
		}
		return results, nil
	}

	// Detections rescaled to the original frame must be mapped back to the
	// view scale to address the feature maps.
	viewBoxes := make([][]images.Box, len(dets))
	var rois []RoI
	for i, d := range dets {
		viewBoxes[i] = make([]images.Box, len(d))
		for j, det := range d {
			b := det.Box
			if rescale {
				b = b.Scale(metas[i].ScaleFactor.W, metas[i].ScaleFactor.H)
			}
			viewBoxes[i][j] = b
			rois = append(rois, RoI{ImageIndex: i, Box: b})
		}
	}

	pred, err := forward(0, rois)
	if err != nil {
		return nil, errors.Wrap(err, "simple test masks: forward")
	}
	if pred.N != len(rois) {
		return nil, errors.Errorf("simple test masks: %d predictions for %d rois", pred.N, len(rois))
	}

	offset := 0
	for i, d := range dets {
		if len(d) == 0 {
			results[i] = emptyClassMasks(head.NumClasses(), metas[i].OrigShape)
			continue
		}
		labels := make([]int, len(d))
		for j, det := range d {
			labels[j] = det.Label
		}
		masks, err := head.Masks(pred.Slice(offset, offset+len(d)), viewBoxes[i], labels,
			metas[i].OrigShape, metas[i].ScaleFactor, rescale)
		if err != nil {
			return nil, errors.Wrapf(err, "simple test masks: image %d", i)
		}
		results[i] = masks
		offset += len(d)
	}
	return results, nil
}

// AugTestMasks runs the mask branch over augmented views of one image,
// averages the recovered probability maps and decodes them once in the
// original image frame.
func AugTestMasks(head MaskHead, forward MaskForward, dets []Detection,
	metas []pipeline.Meta) ([]*images.BitmapMasks, error) {

	if len(metas) == 0 {
		return nil, errors.New("aug test masks: no views")
	}
	if len(dets) == 0 {
		return emptyClassMasks(head.NumClasses(), metas[0].OrigShape), nil
	}

	boxes := make([]images.Box, len(dets))
	labels := make([]int, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
		labels[i] = d.Label
	}

	preds := make([]*MaskPred, 0, len(metas))
	for v, meta := range metas {
		mapped := MapBoxes(boxes, meta)
		rois := make([]RoI, len(mapped))
		for j, b := range mapped {
			rois[j] = RoI{Box: b}
		}
		pred, err := forward(v, rois)
		if err != nil {
			return nil, errors.Wrapf(err, "aug test masks: forward view %d", v)
		}
		preds = append(preds, pred)
	}

	merged, err := MergeAugMasks(preds, metas)
	if err != nil {
		return nil, err
	}
	return head.Masks(merged, boxes, labels, metas[0].OrigShape, pipeline.ScaleFactor{W: 1, H: 1}, false)
}

// MergeAugMasks undoes each view's flip on its probability maps and averages
// the views element-wise.
func MergeAugMasks(preds []*MaskPred, metas []pipeline.Meta) (*MaskPred, error) {
	if len(preds) != len(metas) {
		return nil, errors.Errorf("merge masks: %d predictions but %d metas", len(preds), len(metas))
	}
	ref := preds[0]
	out := &MaskPred{Data: make([]float32, len(ref.Data)), N: ref.N, Classes: ref.Classes, H: ref.H, W: ref.W}
	inv := 1 / float32(len(preds))

	for v, pred := range preds {
		if pred.N != ref.N || pred.Classes != ref.Classes || pred.H != ref.H || pred.W != ref.W {
			return nil, errors.Errorf("merge masks: view %d shape mismatch", v)
		}
		for r := 0; r < pred.N; r++ {
			for c := 0; c < pred.Classes; c++ {
				src := pred.mapAt(r, c)
				dst := out.mapAt(r, c)
				accumulateUnflipped(dst, src, pred.H, pred.W, metas[v], inv)
			}
		}
	}
	return out, nil
}

// accumulateUnflipped adds src into dst with the view's flip undone.
func accumulateUnflipped(dst, src []float32, h, w int, meta pipeline.Meta, weight float32) {
	flipX := meta.Flipped && (meta.FlipDirection == images.FlipHorizontal || meta.FlipDirection == images.FlipDiagonal)
	flipY := meta.Flipped && (meta.FlipDirection == images.FlipVertical || meta.FlipDirection == images.FlipDiagonal)
	for y := 0; y < h; y++ {
		sy := y
		if flipY {
			sy = h - 1 - y
		}
		for x := 0; x < w; x++ {
			sx := x
			if flipX {
				sx = w - 1 - x
			}
			dst[y*w+x] += src[sy*w+sx] * weight
		}
	}
}

// emptyClassMasks builds one empty bitmap container per class.
func emptyClassMasks(numClasses int, shape pipeline.Shape) []*images.BitmapMasks {
	out := make([]*images.BitmapMasks, numClasses)
	for i := range out {
		m, _ := images.NewBitmapMasks(nil, shape.Height, shape.Width)
		out[i] = m
	}
	return out
}
