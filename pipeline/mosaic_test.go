package pipeline

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
)

// fixedSampler serves pre-built records at fixed indices.
type fixedSampler struct {
	records map[int]*Record
}

func (s *fixedSampler) BatchRandOthers(_ *rand.Rand, idx, n int) []int {
	out := make([]int, 0, n)
	for i := 0; len(out) < n; i++ {
		if i != idx {
			out = append(out, i)
		}
	}
	return out
}

func (s *fixedSampler) LoadRecord(idx int) (*Record, error) {
	rec, ok := s.records[idx]
	if !ok {
		return nil, errors.Errorf("no record %d", idx)
	}
	return rec.Clone(), nil
}

func mosaicTile(height, width int, label int) *Record {
	rec := testRecord(height, width)
	rec.Boxes = []images.Box{{X1: 1, Y1: 1, X2: float32(width - 1), Y2: float32(height - 1)}}
	rec.Labels = []int{label}
	return rec
}

func TestMosaicCanvasAndAnnotations(t *testing.T) {
	sampler := &fixedSampler{records: map[int]*Record{
		0: mosaicTile(40, 40, 1),
		1: mosaicTile(40, 40, 2),
		2: mosaicTile(40, 40, 3),
	}}
	stage, err := NewMosaic(MosaicConfig{PadValue: 114}, NewCompose(), sampler)
	require.NoError(t, err)

	rec := mosaicTile(20, 20, 0)
	rec.Index = 9
	out, err := stage.Apply(newTestRand(), rec)
	require.NoError(t, err)

	// Canvas side is twice the largest extent touching the center seam.
	cxy := 40
	assert.Equal(t, Shape{Height: 2 * cxy, Width: 2 * cxy, Channels: 3}, out.Shape)
	assert.Equal(t, out.Shape, out.PadShape)
	assert.Equal(t, out.Shape, out.OrigShape)

	assert.Len(t, out.Boxes, 4, "each tile contributes its boxes")
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, out.Labels)

	assert.Empty(t, out.Filename, "a composite has no single source file")
	assert.False(t, out.Flipped)

	// Boxes stay inside the canvas.
	for _, b := range out.Boxes {
		assert.GreaterOrEqual(t, b.X1, float32(0))
		assert.LessOrEqual(t, b.X2, float32(2*cxy))
		assert.GreaterOrEqual(t, b.Y1, float32(0))
		assert.LessOrEqual(t, b.Y2, float32(2*cxy))
	}

	// Uncovered canvas corners carry the pad value.
	assert.Equal(t, float32(114), out.Image.At(0, 0, 0))
}

func TestMosaicRejectsOversizedTiles(t *testing.T) {
	// cxy only bounds the extents touching the center seam; a companion wider
	// than that would overrun its quadrant, so the stage must refuse it
	// instead of wrapping pixel rows into the canvas.
	sampler := &fixedSampler{records: map[int]*Record{
		0: mosaicTile(10, 50, 1), // top-right tile: width unconstrained by cxy
		1: mosaicTile(10, 10, 2),
		2: mosaicTile(10, 10, 3),
	}}
	stage, err := NewMosaic(MosaicConfig{}, NewCompose(), sampler)
	require.NoError(t, err)

	rec := mosaicTile(10, 10, 0)
	rec.Index = 9
	_, err = stage.Apply(newTestRand(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds canvas half")
}

func TestMosaicPropagatesLoadErrors(t *testing.T) {
	sampler := &fixedSampler{records: map[int]*Record{}}
	stage, err := NewMosaic(MosaicConfig{}, NewCompose(), sampler)
	require.NoError(t, err)

	_, err = stage.Apply(newTestRand(), mosaicTile(30, 30, 0))
	assert.Error(t, err, "companion load failures surface")
}

// boxDropAugmenter keeps only the first box, exercising the index map.
type boxDropAugmenter struct{}

func (boxDropAugmenter) Augment(_ *rand.Rand, p *AugPayload) (*AugPayload, error) {
	return &AugPayload{
		Image:    p.Image,
		Boxes:    p.Boxes[:1],
		IndexMap: []int{0},
	}, nil
}

func TestExternalAugmentRecoversLabels(t *testing.T) {
	stage, err := NewExternalAugment(ExternalAugmentConfig{}, boxDropAugmenter{})
	require.NoError(t, err)

	rec := testRecord(32, 32)
	rec.Labels = []int{5, 6}
	out, err := stage.Apply(newTestRand(), rec)
	require.NoError(t, err)

	require.Len(t, out.Boxes, 1)
	assert.Equal(t, []int{5}, out.Labels, "labels follow the index map")
}

// emptyAugmenter drops every box.
type emptyAugmenter struct{}

func (emptyAugmenter) Augment(_ *rand.Rand, p *AugPayload) (*AugPayload, error) {
	return &AugPayload{Image: p.Image, IndexMap: []int{}}, nil
}

func TestExternalAugmentRejectsEmptyResults(t *testing.T) {
	stage, err := NewExternalAugment(ExternalAugmentConfig{SkipWithoutAnnotations: true}, emptyAugmenter{})
	require.NoError(t, err)

	_, err = stage.Apply(newTestRand(), testRecord(32, 32))
	require.Error(t, err)
	assert.True(t, IsRejection(err), "an empty augmented sample is a rejection, not a failure")
}
