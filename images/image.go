// Package images - geometric and photometric primitives for augmentation
// pipelines, operating on float32 pixel buffers and box coordinate arrays.
package images

import (
	"image"

	"github.com/pkg/errors"
)

// Image is a dense H x W x C float32 pixel buffer in row-major HWC layout.
// Channel order is BGR for 3-channel images, matching the decode path.
type Image struct {
	// Pix holds Height*Width*Channels values, interleaved by channel.
	Pix []float32
	// Height is the number of pixel rows.
	Height int
	// Width is the number of pixel columns.
	Width int
	// Channels is the number of interleaved channels per pixel.
	Channels int
}

// New allocates a zero-filled image.
//
// Arguments:
//   - height: Number of rows.
//   - width: Number of columns.
//   - channels: Number of channels per pixel.
//
// Returns:
//   - *Image: The allocated image.
func New(height, width, channels int) *Image {
	return &Image{
		Pix:      make([]float32, height*width*channels),
		Height:   height,
		Width:    width,
		Channels: channels,
	}
}

// NewFilled allocates an image pre-filled with a per-channel value.
//
// Arguments:
//   - height: Number of rows.
//   - width: Number of columns.
//   - fill: One value per channel; its length fixes the channel count.
//
// Returns:
//   - *Image: The filled image.
func NewFilled(height, width int, fill []float32) *Image {
	m := New(height, width, len(fill))
	for i := 0; i < len(m.Pix); i += len(fill) {
		copy(m.Pix[i:], fill)
	}
	return m
}

// At returns the value at row y, column x, channel c. Callers are responsible
// for staying in bounds.
func (m *Image) At(y, x, c int) float32 {
	return m.Pix[(y*m.Width+x)*m.Channels+c]
}

// Set stores v at row y, column x, channel c.
func (m *Image) Set(y, x, c int, v float32) {
	m.Pix[(y*m.Width+x)*m.Channels+c] = v
}

// Clone returns a deep copy of the image.
func (m *Image) Clone() *Image {
	out := &Image{
		Pix:      make([]float32, len(m.Pix)),
		Height:   m.Height,
		Width:    m.Width,
		Channels: m.Channels,
	}
	copy(out.Pix, m.Pix)
	return out
}

// Shape returns (height, width, channels).
func (m *Image) Shape() (int, int, int) {
	return m.Height, m.Width, m.Channels
}

// Validate checks that the buffer length matches the declared shape.
//
// Returns:
//   - error: Non-nil when the buffer and shape disagree.
func (m *Image) Validate() error {
	if m.Height <= 0 || m.Width <= 0 || m.Channels <= 0 {
		return errors.Errorf("images: invalid shape %dx%dx%d", m.Height, m.Width, m.Channels)
	}
	if want := m.Height * m.Width * m.Channels; len(m.Pix) != want {
		return errors.Errorf("images: buffer holds %d values, shape %dx%dx%d needs %d",
			len(m.Pix), m.Height, m.Width, m.Channels, want)
	}
	return nil
}

// FromGoImage converts a Go image.Image into a 3-channel BGR float32 buffer
// with values in [0, 255].
//
// Arguments:
//   - src: The decoded source image.
//
// Returns:
//   - *Image: The converted buffer.
func FromGoImage(src image.Image) *Image {
	bounds := src.Bounds().Canon()
	h, w := bounds.Dy(), bounds.Dx()
	out := New(h, w, 3)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			out.Pix[i] = float32(b >> 8)
			out.Pix[i+1] = float32(g >> 8)
			out.Pix[i+2] = float32(r >> 8)
			i += 3
		}
	}
	return out
}

// ToGoImage converts the buffer back to an 8-bit RGBA image, clamping values
// to [0, 255]. Single-channel images are replicated across RGB.
func (m *Image) ToGoImage() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	clamp := func(v float32) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v + 0.5)
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			var r, g, b uint8
			if m.Channels >= 3 {
				b = clamp(m.At(y, x, 0))
				g = clamp(m.At(y, x, 1))
				r = clamp(m.At(y, x, 2))
			} else {
				v := clamp(m.At(y, x, 0))
				r, g, b = v, v, v
			}
			i := out.PixOffset(x, y)
			out.Pix[i] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = b
			out.Pix[i+3] = 255
		}
	}
	return out
}
