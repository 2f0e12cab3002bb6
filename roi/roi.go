// Package roi - test-time post-processing for region-of-interest detection
// heads: batch splitting, box decoding contracts, augmented-view merging and
// multiclass non-maximum suppression.
package roi

import (
	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// RoI is one region proposal tagged with the batch image it belongs to.
type RoI struct {
	ImageIndex int
	Box        images.Box
}

// Detection couples a decoded box with its confidence and class label.
type Detection struct {
	Box   images.Box
	Score float32
	Label int
}

// BoxesToRoIs flattens per-image proposal lists into a single RoI slice,
// tagging each proposal with its image index.
func BoxesToRoIs(perImage [][]images.Box) []RoI {
	var rois []RoI
	for i, boxes := range perImage {
		for _, b := range boxes {
			rois = append(rois, RoI{ImageIndex: i, Box: b})
		}
	}
	return rois
}

// MapBoxes transfers boxes from the original image frame into an augmented
// view: scale to the view's resolution, then apply the view's flip.
func MapBoxes(boxes []images.Box, meta pipeline.Meta) []images.Box {
	out := make([]images.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Scale(meta.ScaleFactor.W, meta.ScaleFactor.H)
	}
	if meta.Flipped {
		out = images.FlipBoxes(out, meta.Shape.Height, meta.Shape.Width, meta.FlipDirection)
	}
	return out
}

// MapBoxesBack inverts MapBoxes: undo the view's flip, then scale back to the
// original image frame.
func MapBoxesBack(boxes []images.Box, meta pipeline.Meta) []images.Box {
	out := images.CloneBoxes(boxes)
	if meta.Flipped {
		out = images.FlipBoxes(out, meta.Shape.Height, meta.Shape.Width, meta.FlipDirection)
	}
	for i, b := range out {
		out[i] = b.Scale(1/meta.ScaleFactor.W, 1/meta.ScaleFactor.H)
	}
	return out
}
