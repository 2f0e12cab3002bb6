package pipeline

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// Sampler supplies companion samples for batch-composing stages. It is
// implemented by datasets that can draw additional records beyond the one
// flowing through the pipeline.
type Sampler interface {
	// BatchRandOthers draws n indices distinct from idx where possible,
	// falling back to repetition when the pool is too small.
	BatchRandOthers(rng *rand.Rand, idx, n int) []int
	// LoadRecord builds the initial record for the given index, with the
	// file and annotation info loaded but no pipeline applied.
	LoadRecord(idx int) (*Record, error)
}

// MosaicConfig configures a Mosaic stage.
type MosaicConfig struct {
	// PadValue fills canvas regions not covered by any tile.
	PadValue float32 `json:"pad_value" yaml:"pad_value"`
}

// Mosaic composes four samples into one: the incoming record plus three
// companions drawn from the sampler, each run through an inner pipeline, then
// tiled around the center of a square canvas. Boxes and labels from all four
// tiles are concatenated; the canvas carries no flip or filename metadata.
type Mosaic struct {
	cfg     MosaicConfig
	inner   *Compose
	sampler Sampler
}

// NewMosaic wires the inner per-tile pipeline and the companion sampler.
func NewMosaic(cfg MosaicConfig, inner *Compose, sampler Sampler) (*Mosaic, error) {
	if inner == nil {
		return nil, errors.New("mosaic: nil inner pipeline")
	}
	if sampler == nil {
		return nil, errors.New("mosaic: nil sampler")
	}
	return &Mosaic{cfg: cfg, inner: inner, sampler: sampler}, nil
}

// Name implements Stage.
func (m *Mosaic) Name() string { return "Mosaic" }

// Apply implements Stage.
func (m *Mosaic) Apply(rng *rand.Rand, rec *Record) (*Record, error) {
	tiles := make([]*Record, 0, 4)
	tiles = append(tiles, rec.Clone())
	for _, idx := range m.sampler.BatchRandOthers(rng, rec.Index, 3) {
		other, err := m.sampler.LoadRecord(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "mosaic: load companion %d", idx)
		}
		tiles = append(tiles, other)
	}

	for i := range tiles {
		out, err := m.inner.Apply(rng, tiles[i])
		if err != nil {
			return nil, errors.Wrapf(err, "mosaic: tile %d", i)
		}
		tiles[i] = out
	}

	// The canvas side is twice the largest extent touching the center seam.
	cxy := maxInt(
		maxInt(tiles[0].PadShape.Height, tiles[1].PadShape.Height),
		maxInt(tiles[0].PadShape.Width, tiles[2].PadShape.Width),
	)
	// Extents away from the seam are unconstrained by cxy; a tile larger
	// than the canvas half would overrun its quadrant.
	for i, tile := range tiles {
		if tile.PadShape.Height > cxy || tile.PadShape.Width > cxy {
			return nil, errors.Errorf("mosaic: tile %d (%dx%d) exceeds canvas half %d; size tiles uniformly in the inner pipeline",
				i, tile.PadShape.Height, tile.PadShape.Width, cxy)
		}
	}
	fill := make([]float32, tiles[0].Image.Channels)
	for i := range fill {
		fill[i] = m.cfg.PadValue
	}
	canvas := images.NewFilled(2*cxy, 2*cxy, fill)

	out := rec.Clone()
	out.Boxes = nil
	out.Labels = nil
	out.IgnoreBoxes = nil
	out.IgnoreLabels = nil

	for i, tile := range tiles {
		h, w := tile.PadShape.Height, tile.PadShape.Width
		var x1, y1 int
		switch i {
		case 0: // top left
			x1, y1 = cxy-w, cxy-h
		case 1: // top right
			x1, y1 = cxy, cxy-h
		case 2: // bottom left
			x1, y1 = cxy-w, cxy
		case 3: // bottom right
			x1, y1 = cxy, cxy
		}
		pasteAt(canvas, tile.Image, y1, x1)

		for _, b := range tile.Boxes {
			out.Boxes = append(out.Boxes, b.Translate(float32(x1), float32(y1)))
		}
		out.Labels = append(out.Labels, tile.Labels...)
		for _, b := range tile.IgnoreBoxes {
			out.IgnoreBoxes = append(out.IgnoreBoxes, b.Translate(float32(x1), float32(y1)))
		}
		out.IgnoreLabels = append(out.IgnoreLabels, tile.IgnoreLabels...)
	}

	out.Image = canvas
	out.Shape = ShapeOf(canvas)
	out.OrigShape = out.Shape
	out.PadShape = out.Shape
	out.Filename = ""
	out.Flipped = false
	out.FlipDirection = ""
	return out, nil
}
