package roi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
)

func TestMulticlassNMSSuppressesOverlaps(t *testing.T) {
	// Two near-identical boxes and one far away, one foreground class.
	boxes := [][]images.Box{
		{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{{X1: 1, Y1: 1, X2: 11, Y2: 11}},
		{{X1: 50, Y1: 50, X2: 60, Y2: 60}},
	}
	scores := [][]float32{
		{0.9, 0.1},
		{0.8, 0.2},
		{0.7, 0.3},
	}

	dets, err := MulticlassNMS(boxes, scores, NMSConfig{ScoreThr: 0.05, IoUThr: 0.5})
	require.NoError(t, err)
	require.Len(t, dets, 2, "the lower-scoring overlap is suppressed")
	assert.InDelta(t, 0.9, dets[0].Score, 1e-6, "results are sorted by descending score")
	assert.InDelta(t, 0.7, dets[1].Score, 1e-6)
	assert.Equal(t, 0, dets[0].Label)
}

func TestMulticlassNMSPerClassIndependence(t *testing.T) {
	// Identical boxes in different classes must both survive.
	boxes := [][]images.Box{
		{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
	}
	scores := [][]float32{
		{0.9, 0.0, 0.1}, // class 0
		{0.0, 0.8, 0.2}, // class 1
	}

	dets, err := MulticlassNMS(boxes, scores, NMSConfig{ScoreThr: 0.05, IoUThr: 0.5})
	require.NoError(t, err)
	require.Len(t, dets, 2, "suppression never crosses class boundaries")
	labels := []int{dets[0].Label, dets[1].Label}
	assert.ElementsMatch(t, []int{0, 1}, labels)
}

func TestMulticlassNMSScoreThresholdIsStrict(t *testing.T) {
	boxes := [][]images.Box{{{X1: 0, Y1: 0, X2: 10, Y2: 10}}}
	scores := [][]float32{{0.3, 0.7}}

	dets, err := MulticlassNMS(boxes, scores, NMSConfig{ScoreThr: 0.3, IoUThr: 0.5})
	require.NoError(t, err)
	assert.Empty(t, dets, "a score equal to the threshold is dropped")
}

func TestMulticlassNMSMaxPerImage(t *testing.T) {
	var boxes [][]images.Box
	var scores [][]float32
	for i := 0; i < 10; i++ {
		boxes = append(boxes, []images.Box{{
			X1: float32(i * 20), Y1: 0, X2: float32(i*20 + 10), Y2: 10,
		}})
		scores = append(scores, []float32{0.5 + float32(i)*0.01, 0.1})
	}

	dets, err := MulticlassNMS(boxes, scores, NMSConfig{ScoreThr: 0.05, IoUThr: 0.5, MaxPerImage: 3})
	require.NoError(t, err)
	require.Len(t, dets, 3)
	assert.InDelta(t, 0.59, dets[0].Score, 1e-5, "the cap keeps the best-scoring detections")
}

func TestMulticlassNMSPerClassBoxes(t *testing.T) {
	// One candidate carrying a distinct box per class.
	boxes := [][]images.Box{{
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: 100, Y1: 100, X2: 110, Y2: 110},
	}}
	scores := [][]float32{{0.9, 0.8, 0.1}}

	dets, err := MulticlassNMS(boxes, scores, NMSConfig{ScoreThr: 0.05, IoUThr: 0.5})
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, float32(0), dets[0].Box.X1, "class 0 keeps its own box")
	assert.Equal(t, float32(100), dets[1].Box.X1, "class 1 keeps its own box")
}

func TestMulticlassNMSShapeErrors(t *testing.T) {
	_, err := MulticlassNMS(
		[][]images.Box{{{X1: 0, Y1: 0, X2: 1, Y2: 1}}},
		[][]float32{{0.9, 0.05, 0.05}, {0.1, 0.8, 0.1}},
		NMSConfig{IoUThr: 0.5},
	)
	assert.Error(t, err, "row count mismatch must fail")

	_, err = MulticlassNMS(
		[][]images.Box{{{X1: 0, Y1: 0, X2: 1, Y2: 1}, {X1: 0, Y1: 0, X2: 1, Y2: 1}}},
		[][]float32{{0.9, 0.05, 0.03, 0.02}},
		NMSConfig{IoUThr: 0.5},
	)
	assert.Error(t, err, "boxes must come one per candidate or one per class")

	_, err = MulticlassNMS(nil, nil, NMSConfig{IoUThr: 1.5})
	assert.Error(t, err, "bad thresholds must fail")
}

func TestMapBoxesRoundTrip(t *testing.T) {
	meta := testMeta(100, 200, 0.5, false)
	orig := []images.Box{{X1: 10, Y1: 20, X2: 50, Y2: 60}}

	mapped := MapBoxes(orig, meta)
	assert.InDelta(t, 5, mapped[0].X1, 1e-5, "mapping scales into the augmented frame")

	back := MapBoxesBack(mapped, meta)
	assert.InDelta(t, orig[0].X1, back[0].X1, 1e-4)
	assert.InDelta(t, orig[0].Y2, back[0].Y2, 1e-4)
}

func TestMapBoxesRoundTripFlipped(t *testing.T) {
	meta := testMeta(100, 200, 0.5, true)
	orig := []images.Box{{X1: 10, Y1: 20, X2: 50, Y2: 60}}

	mapped := MapBoxes(orig, meta)
	back := MapBoxesBack(mapped, meta)
	for i := range orig {
		assert.InDelta(t, orig[i].X1, back[i].X1, 1e-4)
		assert.InDelta(t, orig[i].Y1, back[i].Y1, 1e-4)
		assert.InDelta(t, orig[i].X2, back[i].X2, 1e-4)
		assert.InDelta(t, orig[i].Y2, back[i].Y2, 1e-4)
	}
}

func TestBoxesToRoIsCarriesImageIndex(t *testing.T) {
	rois := BoxesToRoIs([][]images.Box{
		{{X1: 0, Y1: 0, X2: 1, Y2: 1}},
		{{X1: 2, Y1: 2, X2: 3, Y2: 3}, {X1: 4, Y1: 4, X2: 5, Y2: 5}},
	})
	require.Len(t, rois, 3)
	assert.Equal(t, 0, rois[0].ImageIndex)
	assert.Equal(t, 1, rois[1].ImageIndex)
	assert.Equal(t, 1, rois[2].ImageIndex)
}
