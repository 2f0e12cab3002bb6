package images

import "github.com/chewxy/math32"

// Box is an axis-aligned bounding box in xyxy pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the box width. Negative for degenerate boxes.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the box height. Negative for degenerate boxes.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, treating degenerate boxes as empty.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the box center point.
func (b Box) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Valid reports whether the box has positive extent on both axes.
func (b Box) Valid() bool { return b.X2 > b.X1 && b.Y2 > b.Y1 }

// Translate shifts the box by (dx, dy).
func (b Box) Translate(dx, dy float32) Box {
	return Box{b.X1 + dx, b.Y1 + dy, b.X2 + dx, b.Y2 + dy}
}

// Scale multiplies the coordinates by independent width/height factors.
func (b Box) Scale(wScale, hScale float32) Box {
	return Box{b.X1 * wScale, b.Y1 * hScale, b.X2 * wScale, b.Y2 * hScale}
}

// Clip clamps the box to an image of the given size.
func (b Box) Clip(height, width int) Box {
	return Box{
		X1: math32.Min(math32.Max(b.X1, 0), float32(width)),
		Y1: math32.Min(math32.Max(b.Y1, 0), float32(height)),
		X2: math32.Min(math32.Max(b.X2, 0), float32(width)),
		Y2: math32.Min(math32.Max(b.Y2, 0), float32(height)),
	}
}

// ContainsCenter reports whether the center of other lies strictly inside b.
func (b Box) ContainsCenter(other Box) bool {
	cx, cy := other.Center()
	return cx > b.X1 && cx < b.X2 && cy > b.Y1 && cy < b.Y2
}

// IoU computes intersection over union between two boxes.
//
// Arguments:
//   - other: The box to intersect with.
//
// Returns:
//   - float32: IoU in [0, 1]; 0 when either box is empty.
func (b Box) IoU(other Box) float32 {
	ix1 := math32.Max(b.X1, other.X1)
	iy1 := math32.Max(b.Y1, other.Y1)
	ix2 := math32.Min(b.X2, other.X2)
	iy2 := math32.Min(b.Y2, other.Y2)
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Overlaps computes the IoU of one patch against every box in boxes.
//
// Arguments:
//   - patch: The candidate crop rectangle.
//   - boxes: Ground-truth boxes.
//
// Returns:
//   - []float32: One IoU per input box, in order.
func Overlaps(patch Box, boxes []Box) []float32 {
	out := make([]float32, len(boxes))
	for i, b := range boxes {
		out[i] = patch.IoU(b)
	}
	return out
}

// CloneBoxes returns a copy of a box slice.
func CloneBoxes(boxes []Box) []Box {
	out := make([]Box, len(boxes))
	copy(out, boxes)
	return out
}
