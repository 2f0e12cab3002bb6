package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackShapesAndLayout(t *testing.T) {
	a := testRecord(4, 5)
	b := testRecord(4, 5)

	batch, err := Stack([]*Record{a, b})
	require.NoError(t, err)
	assert.EqualValues(t, []int{2, 3, 4, 5}, batch.Shape(), "stacked tensor is NCHW")

	// HWC source becomes CHW per image.
	data := batch.Data().([]float32)
	c, h, w := 3, 4, 5
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < c; ch++ {
				assert.Equal(t, a.Image.At(y, x, ch), data[ch*h*w+y*w+x],
					"channel-planar layout at (%d,%d,%d)", y, x, ch)
			}
		}
	}
	// Second image starts after the first full CHW block.
	assert.Equal(t, b.Image.At(0, 0, 0), data[c*h*w])
}

func TestStackRejectsMixedShapes(t *testing.T) {
	_, err := Stack([]*Record{testRecord(4, 5), testRecord(4, 6)})
	assert.Error(t, err, "pad shapes must agree")

	_, err = Stack(nil)
	assert.Error(t, err, "empty batches must fail")
}

func TestStackRejectsUnpaddedRecords(t *testing.T) {
	rec := testRecord(4, 5)
	rec.PadShape = Shape{Height: 8, Width: 8, Channels: 3} // image never padded
	_, err := Stack([]*Record{rec})
	assert.Error(t, err, "image shape must match the declared pad shape")
}

func TestExpandGrowsCanvas(t *testing.T) {
	stage, err := NewExpand(ExpandConfig{
		Mean:     [3]float32{1, 2, 3},
		MinRatio: 2,
		MaxRatio: 2,
		Prob:     1,
	})
	require.NoError(t, err)

	rec := testRecord(10, 10)
	out, err := stage.Apply(newTestRand(), rec)
	require.NoError(t, err)

	assert.Equal(t, Shape{Height: 20, Width: 20, Channels: 3}, out.Shape)
	require.Len(t, out.Boxes, len(rec.Boxes))
	for i := range out.Boxes {
		assert.InDelta(t, rec.Boxes[i].Width(), out.Boxes[i].Width(), 1e-4,
			"expansion translates boxes without resizing them")
	}
}

func TestCutOutValidation(t *testing.T) {
	_, err := NewCutOut(CutOutConfig{MinHoles: 1, MaxHoles: 2})
	assert.Error(t, err, "either shapes or ratios must be given")

	_, err = NewCutOut(CutOutConfig{
		MinHoles: 1, MaxHoles: 2,
		Shapes: []Scale{{W: 4, H: 4}},
		Ratios: [][2]float32{{0.1, 0.1}},
	})
	assert.Error(t, err, "shapes and ratios are mutually exclusive")
}

func TestCutOutZeroesRegions(t *testing.T) {
	stage, err := NewCutOut(CutOutConfig{
		MinHoles: 1, MaxHoles: 1,
		Shapes: []Scale{{W: 4, H: 4}},
	})
	require.NoError(t, err)

	rec := testRecord(20, 20)
	for i := range rec.Image.Pix {
		rec.Image.Pix[i] = 100
	}
	out, err := stage.Apply(newTestRand(), rec)
	require.NoError(t, err)

	changed := 0
	for i := range out.Image.Pix {
		if out.Image.Pix[i] != 100 {
			changed++
		}
	}
	assert.Greater(t, changed, 0, "at least one hole must be cut")
	assert.LessOrEqual(t, changed, 4*4*3, "a single 4x4 hole bounds the damage")
}
