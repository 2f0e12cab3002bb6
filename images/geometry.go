package images

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Interpolation selects the resampling kernel used by Resize and Rescale.
type Interpolation int

const (
	// InterpBilinear uses bilinear interpolation.
	InterpBilinear Interpolation = iota
	// InterpNearest uses nearest-neighbor sampling. Required for label maps.
	InterpNearest
)

// FlipDirection names a reflection axis.
type FlipDirection string

const (
	// FlipHorizontal mirrors across the vertical axis.
	FlipHorizontal FlipDirection = "horizontal"
	// FlipVertical mirrors across the horizontal axis.
	FlipVertical FlipDirection = "vertical"
	// FlipDiagonal mirrors across both axes.
	FlipDiagonal FlipDirection = "diagonal"
)

// Resize scales an image to an exact target size.
//
// Arguments:
//   - src: Source image.
//   - height: Target height, > 0.
//   - width: Target width, > 0.
//   - interp: Resampling kernel.
//
// Returns:
//   - *Image: The resized image.
//   - float32: Effective width scale (width / src.Width).
//   - float32: Effective height scale (height / src.Height).
func Resize(src *Image, height, width int, interp Interpolation) (*Image, float32, float32) {
	if height == src.Height && width == src.Width {
		return src.Clone(), 1, 1
	}
	out := New(height, width, src.Channels)
	xRatio := float32(src.Width) / float32(width)
	yRatio := float32(src.Height) / float32(height)

	switch interp {
	case InterpNearest:
		for y := 0; y < height; y++ {
			sy := int(float32(y) * yRatio)
			if sy >= src.Height {
				sy = src.Height - 1
			}
			for x := 0; x < width; x++ {
				sx := int(float32(x) * xRatio)
				if sx >= src.Width {
					sx = src.Width - 1
				}
				for c := 0; c < src.Channels; c++ {
					out.Set(y, x, c, src.At(sy, sx, c))
				}
			}
		}
	default:
		// Half-pixel-centered bilinear sampling.
		for y := 0; y < height; y++ {
			fy := (float32(y)+0.5)*yRatio - 0.5
			y0 := int(math32.Floor(fy))
			wy := fy - float32(y0)
			y1 := y0 + 1
			y0 = clampIndex(y0, src.Height)
			y1 = clampIndex(y1, src.Height)
			for x := 0; x < width; x++ {
				fx := (float32(x)+0.5)*xRatio - 0.5
				x0 := int(math32.Floor(fx))
				wx := fx - float32(x0)
				x1 := x0 + 1
				x0 = clampIndex(x0, src.Width)
				x1 = clampIndex(x1, src.Width)
				for c := 0; c < src.Channels; c++ {
					top := src.At(y0, x0, c)*(1-wx) + src.At(y0, x1, c)*wx
					bot := src.At(y1, x0, c)*(1-wx) + src.At(y1, x1, c)*wx
					out.Set(y, x, c, top*(1-wy)+bot*wy)
				}
			}
		}
	}

	return out, float32(width) / float32(src.Width), float32(height) / float32(src.Height)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// RescaleFactor computes the keep-aspect-ratio scale factor that fits an image
// of (height, width) inside a (longEdge, shortEdge) budget: the smaller of
// longEdge over the longer input edge and shortEdge over the shorter one.
func RescaleFactor(height, width, longEdge, shortEdge int) float32 {
	maxIn := math32.Max(float32(height), float32(width))
	minIn := math32.Min(float32(height), float32(width))
	return math32.Min(float32(longEdge)/maxIn, float32(shortEdge)/minIn)
}

// Rescale resizes an image while keeping its aspect ratio, so that the longer
// edge does not exceed longEdge and the shorter edge does not exceed
// shortEdge.
//
// The returned per-axis scales are derived from the actual output shape and
// may differ from each other by rounding; callers that need exact factors must
// use these rather than the requested scale.
//
// Arguments:
//   - src: Source image.
//   - longEdge: Budget for the longer edge.
//   - shortEdge: Budget for the shorter edge.
//   - interp: Resampling kernel.
//
// Returns:
//   - *Image: The rescaled image.
//   - float32: Effective width scale.
//   - float32: Effective height scale.
func Rescale(src *Image, longEdge, shortEdge int, interp Interpolation) (*Image, float32, float32) {
	factor := RescaleFactor(src.Height, src.Width, longEdge, shortEdge)
	newH := int(float32(src.Height)*factor + 0.5)
	newW := int(float32(src.Width)*factor + 0.5)
	if newH < 1 {
		newH = 1
	}
	if newW < 1 {
		newW = 1
	}
	return Resize(src, newH, newW, interp)
}

// Flip mirrors an image along the given axis (or both for diagonal).
//
// Arguments:
//   - src: Source image.
//   - dir: Reflection axis.
//
// Returns:
//   - *Image: The flipped image.
func Flip(src *Image, dir FlipDirection) *Image {
	out := New(src.Height, src.Width, src.Channels)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			sy, sx := y, x
			switch dir {
			case FlipHorizontal:
				sx = src.Width - 1 - x
			case FlipVertical:
				sy = src.Height - 1 - y
			case FlipDiagonal:
				sx = src.Width - 1 - x
				sy = src.Height - 1 - y
			}
			for c := 0; c < src.Channels; c++ {
				out.Set(y, x, c, src.At(sy, sx, c))
			}
		}
	}
	return out
}

// FlipBoxes reflects boxes inside an image of the given shape.
//
// The reflection uses the full-width/height formula (x' = W - x), so flipping
// twice in the same direction is an exact involution.
//
// Arguments:
//   - boxes: Boxes in xyxy coordinates.
//   - height: Image height.
//   - width: Image width.
//   - dir: Reflection axis.
//
// Returns:
//   - []Box: The flipped boxes, same order as the input.
func FlipBoxes(boxes []Box, height, width int, dir FlipDirection) []Box {
	w := float32(width)
	h := float32(height)
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		switch dir {
		case FlipHorizontal:
			out[i] = Box{w - b.X2, b.Y1, w - b.X1, b.Y2}
		case FlipVertical:
			out[i] = Box{b.X1, h - b.Y2, b.X2, h - b.Y1}
		case FlipDiagonal:
			out[i] = Box{w - b.X2, h - b.Y2, w - b.X1, h - b.Y1}
		}
	}
	return out
}

// Crop extracts the patch [x1, y1, x2, y2) from an image. The patch is clipped
// to the image bounds first.
//
// Arguments:
//   - src: Source image.
//   - patch: Crop rectangle in xyxy pixel coordinates.
//
// Returns:
//   - *Image: The cropped image.
//   - error: Non-nil when the clipped patch is empty.
func Crop(src *Image, patch Box) (*Image, error) {
	clipped := patch.Clip(src.Height, src.Width)
	x1, y1 := int(clipped.X1), int(clipped.Y1)
	x2, y2 := int(clipped.X2), int(clipped.Y2)
	if x2 <= x1 || y2 <= y1 {
		return nil, errors.Errorf("images: empty crop patch [%v %v %v %v] on %dx%d image",
			patch.X1, patch.Y1, patch.X2, patch.Y2, src.Height, src.Width)
	}
	out := New(y2-y1, x2-x1, src.Channels)
	rowLen := (x2 - x1) * src.Channels
	for y := y1; y < y2; y++ {
		srcOff := (y*src.Width + x1) * src.Channels
		dstOff := (y - y1) * rowLen
		copy(out.Pix[dstOff:dstOff+rowLen], src.Pix[srcOff:srcOff+rowLen])
	}
	return out, nil
}

// Pad places an image at the top-left of a larger canvas filled with padVal.
// The target must be at least as large as the source on both axes.
//
// Arguments:
//   - src: Source image.
//   - height: Canvas height.
//   - width: Canvas width.
//   - padVal: Fill value, broadcast across channels when a single value is
//     given.
//
// Returns:
//   - *Image: The padded image.
//   - error: Non-nil when the canvas is smaller than the source.
func Pad(src *Image, height, width int, padVal []float32) (*Image, error) {
	if height < src.Height || width < src.Width {
		return nil, errors.Errorf("images: pad target %dx%d smaller than source %dx%d",
			height, width, src.Height, src.Width)
	}
	fill := padVal
	if len(fill) == 1 && src.Channels > 1 {
		fill = make([]float32, src.Channels)
		for i := range fill {
			fill[i] = padVal[0]
		}
	}
	if len(fill) != src.Channels {
		return nil, errors.Errorf("images: pad value has %d channels, image has %d",
			len(fill), src.Channels)
	}
	out := NewFilled(height, width, fill)
	rowLen := src.Width * src.Channels
	for y := 0; y < src.Height; y++ {
		copy(out.Pix[y*width*src.Channels:], src.Pix[y*rowLen:(y+1)*rowLen])
	}
	return out, nil
}

// PadToMultiple pads an image on the bottom/right so both dimensions become
// multiples of divisor.
func PadToMultiple(src *Image, divisor int, padVal []float32) (*Image, error) {
	if divisor <= 0 {
		return nil, errors.Errorf("images: pad divisor must be positive, got %d", divisor)
	}
	h := ((src.Height + divisor - 1) / divisor) * divisor
	w := ((src.Width + divisor - 1) / divisor) * divisor
	return Pad(src, h, w, padVal)
}
