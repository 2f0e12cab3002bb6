package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhotoMetricDistortionPreservesGeometry(t *testing.T) {
	stage, err := NewPhotoMetricDistortion(DefaultPhotoMetricDistortionConfig())
	require.NoError(t, err)

	rec := testRecord(32, 32)
	rng := newTestRand()
	for i := 0; i < 10; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.Shape, out.Shape, "photometric stages never change geometry")
		assert.Equal(t, rec.Boxes, out.Boxes, "boxes are untouched")
	}
}

func TestPhotoMetricDistortionChangesPixels(t *testing.T) {
	stage, err := NewPhotoMetricDistortion(DefaultPhotoMetricDistortionConfig())
	require.NoError(t, err)

	rec := testRecord(32, 32)
	rng := newTestRand()
	changed := false
	for i := 0; i < 10 && !changed; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err)
		for j := range out.Image.Pix {
			if out.Image.Pix[j] != rec.Image.Pix[j] {
				changed = true
				break
			}
		}
	}
	assert.True(t, changed, "ten draws should distort the image at least once")
}

func TestHSVJitterValueRange(t *testing.T) {
	stage, err := NewHSVJitter(HSVJitterConfig{HGain: 0.5, SGain: 0.5, VGain: 0.5})
	require.NoError(t, err)

	rec := testRecord(16, 16)
	rng := newTestRand()
	for i := 0; i < 10; i++ {
		out, err := stage.Apply(rng, rec)
		require.NoError(t, err)
		for _, v := range out.Image.Pix {
			assert.GreaterOrEqual(t, v, float32(0), "jittered values stay non-negative")
			assert.LessOrEqual(t, v, float32(255.001), "jittered values stay in byte range")
		}
	}
}

func TestRandomGrayscaleAlways(t *testing.T) {
	stage, err := NewRandomGrayscale(RandomGrayscaleConfig{Prob: 1})
	require.NoError(t, err)

	out, err := stage.Apply(newTestRand(), testRecord(8, 8))
	require.NoError(t, err)
	for i := 0; i < len(out.Image.Pix); i += 3 {
		assert.Equal(t, out.Image.Pix[i], out.Image.Pix[i+1], "gray channels agree")
		assert.Equal(t, out.Image.Pix[i], out.Image.Pix[i+2], "gray channels agree")
	}
}

func TestRandomGrayscaleNever(t *testing.T) {
	stage, err := NewRandomGrayscale(RandomGrayscaleConfig{Prob: 0})
	require.NoError(t, err)

	rec := testRecord(8, 8)
	out, err := stage.Apply(newTestRand(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec.Image.Pix, out.Image.Pix, "zero probability leaves the image alone")
}
