package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	src := New(1, 2, 3)
	copy(src.Pix, []float32{10, 20, 30, 40, 50, 60}) // BGR BGR

	out, err := Normalize(src, []float32{1, 2, 3}, []float32{2, 4, 5}, false)
	require.NoError(t, err)
	assert.InDelta(t, (10.0-1)/2, out.Pix[0], 1e-5)
	assert.InDelta(t, (20.0-2)/4, out.Pix[1], 1e-5)
	assert.InDelta(t, (30.0-3)/5, out.Pix[2], 1e-5)
}

func TestNormalizeToRGBSwapsChannels(t *testing.T) {
	src := New(1, 1, 3)
	copy(src.Pix, []float32{10, 20, 30}) // b=10 g=20 r=30

	out, err := Normalize(src, []float32{0, 0, 0}, []float32{1, 1, 1}, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{30, 20, 10}, out.Pix, "toRGB swaps B and R before normalizing")
}

func TestNormalizeRejectsBadArgs(t *testing.T) {
	src := New(1, 1, 3)
	_, err := Normalize(src, []float32{0, 0}, []float32{1, 1, 1}, false)
	assert.Error(t, err, "mean length must be 3")

	_, err = Normalize(src, []float32{0, 0, 0}, []float32{1, 0, 1}, false)
	assert.Error(t, err, "zero std must be rejected")
}

func TestHSVRoundTrip(t *testing.T) {
	src := New(1, 4, 3)
	copy(src.Pix, []float32{
		20, 40, 200, // reddish
		200, 40, 20, // blueish
		128, 128, 128, // gray
		0, 0, 0, // black
	})

	back := HSVToBGR(BGRToHSV(src))
	for i := range src.Pix {
		assert.InDelta(t, src.Pix[i], back.Pix[i], 0.01, "HSV round trip at index %d", i)
	}
}

func TestBGRToHSVKnownColors(t *testing.T) {
	src := New(1, 2, 3)
	copy(src.Pix, []float32{
		0, 0, 255, // pure red
		0, 255, 0, // pure green
	})

	hsv := BGRToHSV(src)
	assert.InDelta(t, 0, hsv.Pix[0], 1e-4, "red hue")
	assert.InDelta(t, 1, hsv.Pix[1], 1e-4, "red saturation")
	assert.InDelta(t, 255, hsv.Pix[2], 1e-4, "red value")
	assert.InDelta(t, 120, hsv.Pix[3], 1e-4, "green hue")
}

func TestGrayscaleEqualChannels(t *testing.T) {
	src := New(2, 2, 3)
	for i := range src.Pix {
		src.Pix[i] = float32(i * 13 % 255)
	}

	out, err := Grayscale(src)
	require.NoError(t, err)
	for i := 0; i < len(out.Pix); i += 3 {
		assert.Equal(t, out.Pix[i], out.Pix[i+1], "gray pixels hold one value")
		assert.Equal(t, out.Pix[i], out.Pix[i+2], "gray pixels hold one value")
	}

	b, g, r := src.Pix[0], src.Pix[1], src.Pix[2]
	want := 0.299*r + 0.587*g + 0.114*b
	assert.InDelta(t, want, out.Pix[0], 1e-4, "luma weights")
}

func TestGrayscaleRejectsNonBGR(t *testing.T) {
	_, err := Grayscale(New(2, 2, 1))
	assert.Error(t, err, "single-channel input")

	_, err = Grayscale(New(2, 2, 4))
	assert.Error(t, err, "four-channel input")
}
