package pipeline

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionkit-ai/go-visionkit/images"
)

func TestJointRandomCropSize(t *testing.T) {
	stage, err := NewJointRandomCrop(JointRandomCropConfig{Size: Scale{W: 40, H: 30}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	rec := testRecord(100, 100)
	rec.Boxes = []images.Box{{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	rec.Labels = []int{0}

	out, err := stage.Apply(rng, rec)
	require.NoError(t, err)
	assert.Equal(t, Shape{Height: 30, Width: 40, Channels: 3}, out.Shape)

	// A box covering the whole image survives any crop, clipped to the patch.
	require.Len(t, out.Boxes, 1)
	assert.Equal(t, float32(0), out.Boxes[0].X1)
	assert.Equal(t, float32(40), out.Boxes[0].X2)
}

func TestJointRandomCropRejectsEmpty(t *testing.T) {
	stage, err := NewJointRandomCrop(JointRandomCropConfig{Size: Scale{W: 10, H: 10}})
	require.NoError(t, err)

	// A single box in the far corner is missed by most crop offsets.
	rec := testRecord(200, 200)
	rec.Boxes = []images.Box{{X1: 195, Y1: 195, X2: 200, Y2: 200}}
	rec.Labels = []int{0}

	rng := rand.New(rand.NewSource(1))
	sawRejection := false
	for i := 0; i < 50 && !sawRejection; i++ {
		_, err := stage.Apply(rng, rec)
		if err != nil {
			require.True(t, IsRejection(err), "losing every box must reject, not fail")
			sawRejection = true
		}
	}
	assert.True(t, sawRejection, "a corner box should be cropped away at least once in 50 draws")
}

func TestJointRandomCropAllowNegative(t *testing.T) {
	stage, err := NewJointRandomCrop(JointRandomCropConfig{
		Size:          Scale{W: 10, H: 10},
		AllowNegative: true,
	})
	require.NoError(t, err)

	rec := testRecord(200, 200)
	rec.Boxes = []images.Box{{X1: 195, Y1: 195, X2: 200, Y2: 200}}
	rec.Labels = []int{0}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err, "negative crops are allowed")
		assert.Len(t, out.Labels, len(out.Boxes), "labels stay aligned with boxes")
	}
}

func TestJointRandomCropKeepsAlignment(t *testing.T) {
	stage, err := NewJointRandomCrop(JointRandomCropConfig{
		Size:          Scale{W: 60, H: 60},
		AllowNegative: true,
	})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	rec.Boxes = []images.Box{
		{X1: 0, Y1: 0, X2: 100, Y2: 100}, // always survives
		{X1: 1, Y1: 1, X2: 3, Y2: 3},     // often cropped away
	}
	rec.Labels = []int{7, 9}

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 30; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err)
		require.Len(t, out.Labels, len(out.Boxes))
		assert.Contains(t, out.Labels, 7, "the full-image box always survives with its label")
	}
}

func TestMinIoURandomCropInvariants(t *testing.T) {
	stage, err := NewMinIoURandomCrop(MinIoURandomCropConfig{
		MinIoUs:     []float32{0.3, 0.5},
		MinCropSize: 0.3,
	})
	require.NoError(t, err)

	rec := testRecord(120, 160)
	rec.Boxes = []images.Box{
		{X1: 30, Y1: 30, X2: 90, Y2: 80},
		{X1: 100, Y1: 50, X2: 150, Y2: 110},
	}
	rec.Labels = []int{1, 2}

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 40; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err, "the stage always terminates, falling back to the original")
		require.Len(t, out.Labels, len(out.Boxes))

		for _, b := range out.Boxes {
			assert.True(t, b.Valid(), "surviving boxes stay valid")
			assert.GreaterOrEqual(t, b.X1, float32(0))
			assert.GreaterOrEqual(t, b.Y1, float32(0))
			assert.LessOrEqual(t, b.X2, float32(out.Shape.Width))
			assert.LessOrEqual(t, b.Y2, float32(out.Shape.Height))
		}
		// A committed crop keeps at least one box center.
		if out.Shape != rec.Shape {
			assert.NotEmpty(t, out.Boxes, "accepted patches contain at least one box center")
		}
	}
}

func TestMinIoURandomCropCountsIgnoreCenters(t *testing.T) {
	// Acceptance runs over the same concatenated box set as the IoU check,
	// so a patch holding only an ignore box's center can still commit.
	stage, err := NewMinIoURandomCrop(MinIoURandomCropConfig{
		MinIoUs:     []float32{0},
		MinCropSize: 0.9,
	})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	rec.Boxes = nil
	rec.Labels = nil
	rec.IgnoreBoxes = []images.Box{{X1: 40, Y1: 40, X2: 60, Y2: 60}}
	rec.IgnoreLabels = []int{0}

	committed := false
	for seed := int64(0); seed < 10; seed++ {
		out, err := stage.Apply(rand.New(rand.NewSource(seed)), rec)
		require.NoError(t, err)
		if out.Shape == rec.Shape {
			continue
		}
		committed = true
		require.Len(t, out.IgnoreBoxes, 1, "the ignore box's center was inside the patch")
		assert.LessOrEqual(t, out.IgnoreBoxes[0].X2, float32(out.Shape.Width))
	}
	assert.True(t, committed, "near-full-size patches around a central ignore box must be accepted")
}

func TestMinIoURandomCropWithoutBoxGroup(t *testing.T) {
	stage, err := NewMinIoURandomCrop(MinIoURandomCropConfig{MinCropSize: 0.3})
	require.NoError(t, err)

	rec := testRecord(50, 50)
	rec.Groups.Boxes = false
	_, err = stage.Apply(rand.New(rand.NewSource(1)), rec)
	assert.Error(t, err, "the stage requires an active box group")
}

func TestMinIoURandomCropConfigValidation(t *testing.T) {
	_, err := NewMinIoURandomCrop(MinIoURandomCropConfig{
		MinIoUs:     []float32{1.5},
		MinCropSize: 0.3,
	})
	assert.Error(t, err, "IoU thresholds outside [0, 1] must fail")

	_, err = NewMinIoURandomCrop(MinIoURandomCropConfig{MinCropSize: 0})
	assert.Error(t, err, "zero min crop size must fail")
}

func TestBoxFilterDropsSmallBoxes(t *testing.T) {
	stage, err := NewBoxFilter(BoxFilterConfig{MinSize: 10})
	require.NoError(t, err)

	rec := testRecord(100, 100)
	rec.Boxes = []images.Box{
		{X1: 0, Y1: 0, X2: 50, Y2: 50},
		{X1: 0, Y1: 0, X2: 5, Y2: 5},
	}
	rec.Labels = []int{1, 2}

	out, err := stage.Apply(nil, rec)
	require.NoError(t, err)
	require.Len(t, out.Boxes, 1)
	assert.Equal(t, []int{1}, out.Labels, "labels follow the surviving boxes")
}
