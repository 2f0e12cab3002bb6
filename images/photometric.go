package images

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Normalize standardizes a 3-channel image in place semantics-wise but on a
// fresh buffer: optionally reorders BGR to RGB, then applies (v - mean) / std
// per channel.
//
// Arguments:
//   - src: 3-channel source image.
//   - mean: Per-channel means, in the output channel order.
//   - std: Per-channel standard deviations, in the output channel order.
//   - toRGB: Whether to swap the B and R channels before normalizing.
//
// Returns:
//   - *Image: The normalized image.
//   - error: Non-nil when shapes disagree.
func Normalize(src *Image, mean, std []float32, toRGB bool) (*Image, error) {
	if src.Channels != 3 {
		return nil, errors.Errorf("images: normalize needs 3 channels, got %d", src.Channels)
	}
	if len(mean) != 3 || len(std) != 3 {
		return nil, errors.Errorf("images: normalize needs 3 mean/std values, got %d/%d",
			len(mean), len(std))
	}
	for i, s := range std {
		if s == 0 {
			return nil, errors.Errorf("images: zero std for channel %d", i)
		}
	}
	out := New(src.Height, src.Width, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		b, g, r := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		if toRGB {
			b, r = r, b
		}
		out.Pix[i] = (b - mean[0]) / std[0]
		out.Pix[i+1] = (g - mean[1]) / std[1]
		out.Pix[i+2] = (r - mean[2]) / std[2]
	}
	return out, nil
}

// BGRToHSV converts a BGR image with values in [0, 255] to HSV with
// H in [0, 360), S in [0, 1] and V in [0, 255].
func BGRToHSV(src *Image) *Image {
	out := New(src.Height, src.Width, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		b, g, r := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		maxC := math32.Max(r, math32.Max(g, b))
		minC := math32.Min(r, math32.Min(g, b))
		v := maxC
		delta := maxC - minC

		var s float32
		if maxC > 0 {
			s = delta / maxC
		}

		var h float32
		if delta > 0 {
			switch maxC {
			case r:
				h = 60 * (g - b) / delta
			case g:
				h = 120 + 60*(b-r)/delta
			default:
				h = 240 + 60*(r-g)/delta
			}
			if h < 0 {
				h += 360
			}
		}
		out.Pix[i] = h
		out.Pix[i+1] = s
		out.Pix[i+2] = v
	}
	return out
}

// HSVToBGR is the inverse of BGRToHSV.
func HSVToBGR(src *Image) *Image {
	out := New(src.Height, src.Width, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		h, s, v := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		for h < 0 {
			h += 360
		}
		for h >= 360 {
			h -= 360
		}
		c := v * s
		x := c * (1 - math32.Abs(math32.Mod(h/60, 2)-1))
		m := v - c

		var r, g, b float32
		switch {
		case h < 60:
			r, g, b = c, x, 0
		case h < 120:
			r, g, b = x, c, 0
		case h < 180:
			r, g, b = 0, c, x
		case h < 240:
			r, g, b = 0, x, c
		case h < 300:
			r, g, b = x, 0, c
		default:
			r, g, b = c, 0, x
		}
		out.Pix[i] = b + m
		out.Pix[i+1] = g + m
		out.Pix[i+2] = r + m
	}
	return out
}

// Grayscale converts a BGR image to a 3-channel grayscale image using the
// ITU-R 601 luma weights, with r == g == b in the output.
func Grayscale(src *Image) (*Image, error) {
	if src.Channels != 3 {
		return nil, errors.Errorf("images: grayscale needs 3 channels, got %d", src.Channels)
	}
	out := New(src.Height, src.Width, 3)
	for i := 0; i < len(src.Pix); i += 3 {
		b, g, r := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
		y := 0.299*r + 0.587*g + 0.114*b
		out.Pix[i] = y
		out.Pix[i+1] = y
		out.Pix[i+2] = y
	}
	return out, nil
}
