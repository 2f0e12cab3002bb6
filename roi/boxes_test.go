package roi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

func simpleHead(t *testing.T) *DeltaBoxHead {
	t.Helper()
	head, err := NewDeltaBoxHead(DeltaBoxHeadConfig{Classes: 1, ClassAgnostic: true})
	require.NoError(t, err)
	return head
}

func TestSimpleTestBoxesSplitsPerImage(t *testing.T) {
	head := simpleHead(t)
	proposals := [][]images.Box{
		{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{{X1: 20, Y1: 20, X2: 40, Y2: 40}, {X1: 60, Y1: 60, X2: 80, Y2: 80}},
	}
	// Concatenated rows across both images: strong foreground everywhere.
	rawScores := [][]float32{{5, 0}, {5, 0}, {5, 0}}
	metas := []pipeline.Meta{testMeta(100, 100, 1, false), testMeta(100, 100, 1, false)}

	dets, err := SimpleTestBoxes(head, proposals, rawScores, nil, metas,
		NMSConfig{ScoreThr: 0.05, IoUThr: 0.5}, false)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Len(t, dets[0], 1, "first image had one proposal")
	assert.Len(t, dets[1], 2, "second image had two disjoint proposals")
	assert.Equal(t, float32(20), dets[1][0].Box.X1)
}

func TestSimpleTestBoxesRescale(t *testing.T) {
	head := simpleHead(t)
	proposals := [][]images.Box{{{X1: 10, Y1: 10, X2: 30, Y2: 30}}}
	metas := []pipeline.Meta{testMeta(200, 200, 0.5, false)}

	dets, err := SimpleTestBoxes(head, proposals, [][]float32{{5, 0}}, nil, metas,
		NMSConfig{ScoreThr: 0.05, IoUThr: 0.5}, true)
	require.NoError(t, err)
	require.Len(t, dets[0], 1)
	assert.InDelta(t, 20, dets[0][0].Box.X1, 1e-4, "rescale maps survivors back to the original frame")
}

func TestSimpleTestBoxesRowMismatch(t *testing.T) {
	head := simpleHead(t)
	_, err := SimpleTestBoxes(head,
		[][]images.Box{{{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		[][]float32{{5, 0}, {5, 0}}, nil,
		[]pipeline.Meta{testMeta(100, 100, 1, false)},
		NMSConfig{IoUThr: 0.5}, false)
	assert.Error(t, err, "score rows must match the proposal count")
}

func TestAugTestBoxesMergesViews(t *testing.T) {
	head := simpleHead(t)
	proposals := []images.Box{{X1: 10, Y1: 10, X2: 30, Y2: 30}}
	metas := []pipeline.Meta{
		testMeta(100, 100, 1, false),
		testMeta(100, 100, 1, true),
	}

	// The forward pass returns the same confident score in every view; the
	// decoded boxes are the (mapped) proposals themselves.
	forward := func(view int, rois []RoI) ([][]float32, [][]float32, error) {
		scores := make([][]float32, len(rois))
		for i := range scores {
			scores[i] = []float32{5, 0}
		}
		return scores, nil, nil
	}

	dets, err := AugTestBoxes(head, forward, proposals, metas, NMSConfig{ScoreThr: 0.05, IoUThr: 0.5})
	require.NoError(t, err)
	require.Len(t, dets, 1, "both views of the same box merge into one detection")

	// With identity scale, mapping back from the flipped view restores the
	// original coordinates, so the mean equals the input box.
	assert.InDelta(t, 10, dets[0].Box.X1, 1e-3)
	assert.InDelta(t, 30, dets[0].Box.X2, 1e-3)
}

func TestMergeAugBoxesAverages(t *testing.T) {
	viewBoxes := [][][]images.Box{
		{{{X1: 0, Y1: 0, X2: 10, Y2: 10}}},
		{{{X1: 2, Y1: 2, X2: 12, Y2: 12}}},
	}
	viewScores := [][][]float32{
		{{0.8, 0.2}},
		{{0.6, 0.4}},
	}

	boxes, scores, err := mergeAugBoxes(viewBoxes, viewScores)
	require.NoError(t, err)
	assert.InDelta(t, 1, boxes[0][0].X1, 1e-5, "box coordinates are averaged element-wise")
	assert.InDelta(t, 11, boxes[0][0].X2, 1e-5)
	assert.InDelta(t, 0.7, scores[0][0], 1e-5, "scores are averaged element-wise")

	_, _, err = mergeAugBoxes(
		[][][]images.Box{{{{X1: 0, Y1: 0, X2: 1, Y2: 1}}}, {}},
		[][][]float32{{{0.5, 0.5}}, {}},
	)
	assert.Error(t, err, "views with different candidate counts must fail")
}
