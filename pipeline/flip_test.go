package pipeline

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
)

func TestJointRandomFlipAlways(t *testing.T) {
	stage, err := NewJointRandomFlip(JointRandomFlipConfig{Ratio: 1})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	out, err := stage.Apply(rand.New(rand.NewSource(1)), rec)
	require.NoError(t, err)

	assert.True(t, out.Flipped)
	assert.Equal(t, images.FlipHorizontal, out.FlipDirection)

	// Box mirrors: x' = W - x.
	assert.InDelta(t, 100-40, out.Boxes[0].X1, 1e-5)
	assert.InDelta(t, 100-10, out.Boxes[0].X2, 1e-5)
	assert.Equal(t, rec.Boxes[0].Y1, out.Boxes[0].Y1, "horizontal flip leaves y untouched")
}

func TestJointRandomFlipNever(t *testing.T) {
	stage, err := NewJointRandomFlip(JointRandomFlipConfig{Ratio: 0})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	out, err := stage.Apply(rand.New(rand.NewSource(1)), rec)
	require.NoError(t, err)
	assert.False(t, out.Flipped)
	assert.Equal(t, rec.Boxes, out.Boxes)
}

func TestJointRandomFlipPinnedDecision(t *testing.T) {
	stage, err := NewJointRandomFlip(JointRandomFlipConfig{Ratio: 0})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	rec.FlipDecision = &FlipSpec{Apply: true, Direction: images.FlipVertical}
	out, err := stage.Apply(rand.New(rand.NewSource(1)), rec)
	require.NoError(t, err)
	assert.True(t, out.Flipped, "a pinned decision overrides the zero ratio")
	assert.Equal(t, images.FlipVertical, out.FlipDirection)
}

func TestJointRandomFlipImageMatchesBoxes(t *testing.T) {
	stage, err := NewJointRandomFlip(JointRandomFlipConfig{Ratio: 1})
	require.NoError(t, err)

	rec := testRecord(10, 10)
	out, err := stage.Apply(rand.New(rand.NewSource(1)), rec)
	require.NoError(t, err)

	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			assert.Equal(t, rec.Image.At(y, 9-x, 0), out.Image.At(y, x, 0),
				"pixels mirror with the boxes")
		}
	}
}

func TestJointRandomFlipConfigValidation(t *testing.T) {
	_, err := NewJointRandomFlip(JointRandomFlipConfig{Ratio: 1.5})
	assert.Error(t, err, "ratio above one must fail")

	_, err = NewJointRandomFlip(JointRandomFlipConfig{
		Ratio:  0.5,
		Ratios: []float32{0.5},
	})
	assert.Error(t, err, "ratio and ratios are mutually exclusive")

	_, err = NewJointRandomFlip(JointRandomFlipConfig{
		Ratios:     []float32{0.7, 0.7},
		Directions: []images.FlipDirection{images.FlipHorizontal, images.FlipVertical},
	})
	assert.Error(t, err, "ratios summing above one must fail")

	_, err = NewJointRandomFlip(JointRandomFlipConfig{
		Directions: []images.FlipDirection{"sideways"},
	})
	assert.Error(t, err, "unknown direction must fail")
}

func TestPadToDivisor(t *testing.T) {
	stage, err := NewPad(PadConfig{SizeDivisor: 32, Value: 7})
	require.NoError(t, err)

	out, err := stage.Apply(nil, testRecord(30, 70))
	require.NoError(t, err)
	assert.Equal(t, Shape{Height: 32, Width: 96, Channels: 3}, out.PadShape)
	assert.Equal(t, Shape{Height: 30, Width: 70, Channels: 3}, out.Shape, "shape keeps the unpadded size")
	assert.Equal(t, float32(7), out.Image.At(31, 95, 0), "padding uses the configured fill")
}

func TestPadExactlyOneMode(t *testing.T) {
	_, err := NewPad(PadConfig{})
	assert.Error(t, err, "neither mode set must fail")

	_, err = NewPad(PadConfig{Size: &Scale{W: 64, H: 64}, SizeDivisor: 32})
	assert.Error(t, err, "both modes set must fail")
}

func TestNormalizeStage(t *testing.T) {
	stage, err := NewNormalize(NormalizeConfig{
		Mean: [3]float32{1, 2, 3},
		Std:  [3]float32{2, 2, 2},
	})
	require.NoError(t, err)

	rec := testRecord(4, 4)
	out, err := stage.Apply(nil, rec)
	require.NoError(t, err)

	require.NotNil(t, out.Norm, "normalization parameters are recorded")
	assert.Equal(t, [3]float32{1, 2, 3}, out.Norm.Mean)
	assert.InDelta(t, (rec.Image.Pix[0]-1)/2, out.Image.Pix[0], 1e-5)

	_, err = NewNormalize(NormalizeConfig{Std: [3]float32{1, 0, 1}})
	assert.Error(t, err, "zero std must fail")
}
