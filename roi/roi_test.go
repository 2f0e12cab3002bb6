package roi

import (
	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// testMeta builds the bookkeeping for a view of an origH x origW image resized
// by scale and optionally flipped horizontally.
func testMeta(origH, origW int, scale float32, flipped bool) pipeline.Meta {
	h := int(float32(origH) * scale)
	w := int(float32(origW) * scale)
	meta := pipeline.Meta{
		OrigShape:   pipeline.Shape{Height: origH, Width: origW, Channels: 3},
		Shape:       pipeline.Shape{Height: h, Width: w, Channels: 3},
		PadShape:    pipeline.Shape{Height: h, Width: w, Channels: 3},
		ScaleFactor: pipeline.ScaleFactor{W: scale, H: scale},
	}
	if flipped {
		meta.Flipped = true
		meta.FlipDirection = images.FlipHorizontal
	}
	return meta
}
