package pipeline

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Stack packs the images of the given records into one NCHW float32 tensor.
// Every record must already be padded to the same shape; metadata stays on
// the records themselves.
func Stack(recs []*Record) (*tensor.Dense, error) {
	if len(recs) == 0 {
		return nil, errors.New("stack: empty batch")
	}
	ref := recs[0].PadShape
	for i, r := range recs[1:] {
		if r.PadShape != ref {
			return nil, errors.Errorf("stack: record %d has pad shape %dx%dx%d, want %dx%dx%d",
				i+1, r.PadShape.Height, r.PadShape.Width, r.PadShape.Channels,
				ref.Height, ref.Width, ref.Channels)
		}
	}

	n, c, h, w := len(recs), ref.Channels, ref.Height, ref.Width
	data := make([]float32, n*c*h*w)
	for i, r := range recs {
		if ShapeOf(r.Image) != ref {
			return nil, errors.Errorf("stack: record %d image shape differs from its pad shape", i)
		}
		base := i * c * h * w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				px := (y*w + x) * c
				for ch := 0; ch < c; ch++ {
					data[base+ch*h*w+y*w+x] = r.Image.Pix[px+ch]
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(data)), nil
}
