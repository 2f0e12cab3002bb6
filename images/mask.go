package images

import "github.com/pkg/errors"

// BitmapMasks is a stack of per-instance binary masks sharing one image
// shape. Masks stay index-aligned with their boxes: any operation that drops
// boxes must call Select with the surviving indices.
type BitmapMasks struct {
	// Masks holds one row-major H*W bitmap per instance.
	Masks [][]uint8
	// Height of every bitmap.
	Height int
	// Width of every bitmap.
	Width int
}

// NewBitmapMasks wraps pre-built bitmaps, validating their sizes.
func NewBitmapMasks(masks [][]uint8, height, width int) (*BitmapMasks, error) {
	for i, m := range masks {
		if len(m) != height*width {
			return nil, errors.Errorf("images: mask %d holds %d values, shape %dx%d needs %d",
				i, len(m), height, width, height*width)
		}
	}
	return &BitmapMasks{Masks: masks, Height: height, Width: width}, nil
}

// Len returns the number of instances.
func (bm *BitmapMasks) Len() int { return len(bm.Masks) }

// Select keeps only the masks at the given indices, preserving order.
func (bm *BitmapMasks) Select(indices []int) *BitmapMasks {
	out := &BitmapMasks{Height: bm.Height, Width: bm.Width}
	for _, i := range indices {
		out.Masks = append(out.Masks, bm.Masks[i])
	}
	return out
}

// asImage views one bitmap as a single-channel float image for reuse of the
// geometric primitives.
func (bm *BitmapMasks) asImage(i int) *Image {
	img := New(bm.Height, bm.Width, 1)
	for j, v := range bm.Masks[i] {
		img.Pix[j] = float32(v)
	}
	return img
}

func maskFromImage(img *Image) []uint8 {
	out := make([]uint8, len(img.Pix))
	for i, v := range img.Pix {
		if v >= 0.5 {
			out[i] = 1
		}
	}
	return out
}

func (bm *BitmapMasks) mapAll(f func(*Image) (*Image, error)) (*BitmapMasks, error) {
	out := &BitmapMasks{Height: bm.Height, Width: bm.Width}
	for i := range bm.Masks {
		img, err := f(bm.asImage(i))
		if err != nil {
			return nil, err
		}
		out.Masks = append(out.Masks, maskFromImage(img))
		out.Height = img.Height
		out.Width = img.Width
	}
	if len(bm.Masks) == 0 {
		// Shape bookkeeping still applies to empty stacks.
		img, err := f(New(bm.Height, bm.Width, 1))
		if err != nil {
			return nil, err
		}
		out.Height = img.Height
		out.Width = img.Width
	}
	return out, nil
}

// Resize scales every mask to an exact size with nearest-neighbor sampling.
func (bm *BitmapMasks) Resize(height, width int) (*BitmapMasks, error) {
	return bm.mapAll(func(img *Image) (*Image, error) {
		out, _, _ := Resize(img, height, width, InterpNearest)
		return out, nil
	})
}

// Rescale resizes every mask keeping aspect ratio, mirroring Rescale on the
// paired image.
func (bm *BitmapMasks) Rescale(longEdge, shortEdge int) (*BitmapMasks, error) {
	return bm.mapAll(func(img *Image) (*Image, error) {
		out, _, _ := Rescale(img, longEdge, shortEdge, InterpNearest)
		return out, nil
	})
}

// Flip mirrors every mask along the given axis.
func (bm *BitmapMasks) Flip(dir FlipDirection) (*BitmapMasks, error) {
	return bm.mapAll(func(img *Image) (*Image, error) {
		return Flip(img, dir), nil
	})
}

// Crop extracts the same patch from every mask.
func (bm *BitmapMasks) Crop(patch Box) (*BitmapMasks, error) {
	return bm.mapAll(func(img *Image) (*Image, error) {
		return Crop(img, patch)
	})
}

// Pad grows every mask to the target shape, filling with zero.
func (bm *BitmapMasks) Pad(height, width int) (*BitmapMasks, error) {
	return bm.mapAll(func(img *Image) (*Image, error) {
		return Pad(img, height, width, []float32{0})
	})
}

// Expand places every mask on a larger zero canvas at offset (top, left).
func (bm *BitmapMasks) Expand(height, width, top, left int) (*BitmapMasks, error) {
	if top < 0 || left < 0 || top+bm.Height > height || left+bm.Width > width {
		return nil, errors.Errorf("images: expand to %dx%d at (%d,%d) does not contain %dx%d",
			height, width, top, left, bm.Height, bm.Width)
	}
	out := &BitmapMasks{Height: height, Width: width}
	for _, m := range bm.Masks {
		grown := make([]uint8, height*width)
		for y := 0; y < bm.Height; y++ {
			copy(grown[(y+top)*width+left:], m[y*bm.Width:(y+1)*bm.Width])
		}
		out.Masks = append(out.Masks, grown)
	}
	return out, nil
}
