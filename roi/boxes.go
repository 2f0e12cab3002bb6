package roi

import (
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// BoxHead decodes a detection head's raw outputs for one image.
type BoxHead interface {
	// NumClasses is the number of foreground classes.
	NumClasses() int
	// Decode turns RoIs and the head's raw per-RoI outputs into candidate
	// boxes and class scores, clipped to the given view shape. Each
	// candidate carries either one class-agnostic box or one box per class;
	// scores carry a trailing background column.
	Decode(rois []RoI, rawScores, rawDeltas [][]float32, shape pipeline.Shape) ([][]images.Box, [][]float32, error)
}

// BoxForward runs the box branch of the network on the features of one
// augmented view.
type BoxForward func(view int, rois []RoI) (rawScores, rawDeltas [][]float32, err error)

// SimpleTestBoxes decodes a single forward pass for a whole batch: the raw
// outputs are split back per image by proposal count, decoded, optionally
// rescaled to the original image frame and suppressed.
//
// Arguments:
//   - head: The decoding contract of the detection head.
//   - proposals: Per-image region proposals in view coordinates.
//   - rawScores, rawDeltas: Head outputs for the concatenated proposals.
//   - metas: Per-image view bookkeeping, aligned with proposals.
//   - cfg: Suppression thresholds.
//   - rescale: Whether to map survivors back to the original image frame.
//
// Returns:
//   - [][]Detection: Per-image detections.
//   - error: Non-nil on shape mismatches or decode failures.
func SimpleTestBoxes(head BoxHead, proposals [][]images.Box, rawScores, rawDeltas [][]float32,
	metas []pipeline.Meta, cfg NMSConfig, rescale bool) ([][]Detection, error) {

	if len(proposals) != len(metas) {
		return nil, errors.Errorf("simple test: %d proposal lists but %d metas", len(proposals), len(metas))
	}
	total := 0
	for _, p := range proposals {
		total += len(p)
	}
	if len(rawScores) != total || (rawDeltas != nil && len(rawDeltas) != total) {
		return nil, errors.Errorf("simple test: %d proposals but %d score rows", total, len(rawScores))
	}

	results := make([][]Detection, len(proposals))
	offset := 0
	for i, props := range proposals {
		n := len(props)
		rois := make([]RoI, n)
		for j, b := range props {
			rois[j] = RoI{ImageIndex: i, Box: b}
		}
		var deltas [][]float32
		if rawDeltas != nil {
			deltas = rawDeltas[offset : offset+n]
		}
		boxes, scores, err := head.Decode(rois, rawScores[offset:offset+n], deltas, metas[i].Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "simple test: decode image %d", i)
		}
		offset += n

		if rescale {
			boxes = rescaleBoxes(boxes, metas[i].ScaleFactor)
		}
		dets, err := MulticlassNMS(boxes, scores, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "simple test: image %d", i)
		}
		results[i] = dets
	}
	return results, nil
}

// AugTestBoxes runs box detection over augmented views of a single image and
// merges the views back into the original frame: proposals are mapped into
// each view, decoded raw, mapped back, averaged element-wise across views and
// finally suppressed once.
func AugTestBoxes(head BoxHead, forward BoxForward, proposals []images.Box,
	metas []pipeline.Meta, cfg NMSConfig) ([]Detection, error) {

	if len(metas) == 0 {
		return nil, errors.New("aug test: no views")
	}

	var viewBoxes [][][]images.Box
	var viewScores [][][]float32
	for v, meta := range metas {
		mapped := MapBoxes(proposals, meta)
		rois := make([]RoI, len(mapped))
		for j, b := range mapped {
			rois[j] = RoI{Box: b}
		}
		rawScores, rawDeltas, err := forward(v, rois)
		if err != nil {
			return nil, errors.Wrapf(err, "aug test: forward view %d", v)
		}
		boxes, scores, err := head.Decode(rois, rawScores, rawDeltas, meta.Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "aug test: decode view %d", v)
		}
		for i := range boxes {
			boxes[i] = MapBoxesBack(boxes[i], meta)
		}
		viewBoxes = append(viewBoxes, boxes)
		viewScores = append(viewScores, scores)
	}

	boxes, scores, err := mergeAugBoxes(viewBoxes, viewScores)
	if err != nil {
		return nil, err
	}
	return MulticlassNMS(boxes, scores, cfg)
}

// mergeAugBoxes averages per-candidate boxes and scores element-wise across
// views. Every view must carry the same candidate layout.
func mergeAugBoxes(viewBoxes [][][]images.Box, viewScores [][][]float32) ([][]images.Box, [][]float32, error) {
	ref := viewBoxes[0]
	inv := 1 / float32(len(viewBoxes))

	boxes := make([][]images.Box, len(ref))
	scores := make([][]float32, len(ref))
	for i := range ref {
		boxes[i] = make([]images.Box, len(ref[i]))
		scores[i] = make([]float32, len(viewScores[0][i]))
	}
	for v := range viewBoxes {
		if len(viewBoxes[v]) != len(ref) {
			return nil, nil, errors.Errorf("aug test: view %d has %d candidates, want %d", v, len(viewBoxes[v]), len(ref))
		}
		for i := range viewBoxes[v] {
			if len(viewBoxes[v][i]) != len(boxes[i]) || len(viewScores[v][i]) != len(scores[i]) {
				return nil, nil, errors.Errorf("aug test: view %d candidate %d layout mismatch", v, i)
			}
			for c, b := range viewBoxes[v][i] {
				boxes[i][c].X1 += b.X1 * inv
				boxes[i][c].Y1 += b.Y1 * inv
				boxes[i][c].X2 += b.X2 * inv
				boxes[i][c].Y2 += b.Y2 * inv
			}
			for c, s := range viewScores[v][i] {
				scores[i][c] += s * inv
			}
		}
	}
	return boxes, scores, nil
}

// rescaleBoxes maps decoded boxes back to the original image frame.
func rescaleBoxes(boxes [][]images.Box, sf pipeline.ScaleFactor) [][]images.Box {
	for i := range boxes {
		for c := range boxes[i] {
			boxes[i][c] = boxes[i][c].Scale(1/sf.W, 1/sf.H)
		}
	}
	return boxes
}
