// Package pipeline - the data augmentation pipeline engine: composable,
// configuration-validated transform stages over a per-sample record, with
// reject-and-resample control flow.
package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
)

// Shape is an image shape in (height, width, channels) order.
type Shape struct {
	Height, Width, Channels int
}

// ShapeOf returns the shape of an image buffer.
func ShapeOf(m *images.Image) Shape {
	return Shape{Height: m.Height, Width: m.Width, Channels: m.Channels}
}

// ScaleFactor holds the effective per-axis scale applied to an image. The
// width and height factors may differ by rounding when the aspect ratio is
// kept; box coordinates use the width factor for x and the height factor
// for y.
type ScaleFactor struct {
	W, H float32
}

// Scale is a target image size request, (width, height). For keep-aspect-ratio
// resizing the longer value bounds the longer edge and the shorter value the
// shorter edge.
type Scale struct {
	W, H int
}

// Long returns the larger of the two extents.
func (s Scale) Long() int {
	if s.W > s.H {
		return s.W
	}
	return s.H
}

// Short returns the smaller of the two extents.
func (s Scale) Short() int {
	if s.W < s.H {
		return s.W
	}
	return s.H
}

// FlipSpec records a flip decision: whether to flip and along which axis.
// A nil *FlipSpec on a record means no stage or wrapper has decided yet.
type FlipSpec struct {
	Apply     bool
	Direction images.FlipDirection
}

// NormParams records the normalization applied to an image so that inference
// consumers can invert it for visualization.
type NormParams struct {
	Mean  [3]float32
	Std   [3]float32
	ToRGB bool
}

// Groups declares which annotation field groups are active on a record.
// Geometric stages must touch every active group so that all fields mapping
// into the image's coordinate space stay consistent.
type Groups struct {
	Boxes bool
	Masks bool
	Seg   bool
}

// Record is the per-sample bundle flowing through a pipeline. Stages never
// mutate their input; each returns a derived record, so ownership transfers
// stage to stage.
type Record struct {
	// Filename is the source image name; empty once compositing (mosaic)
	// makes it meaningless.
	Filename string
	// Index is the dataset index this record was loaded from.
	Index int
	// ImageID is the external image id carried into serialized results.
	ImageID int

	// Image is the pixel buffer. Always present after loading.
	Image *images.Image
	// Boxes are ground-truth boxes in xyxy pixel coordinates, index-aligned
	// with Labels and Masks.
	Boxes  []images.Box
	Labels []int
	// IgnoreBoxes are regions excluded from training, kept geometry-consistent
	// but never used to accept or reject crops.
	IgnoreBoxes  []images.Box
	IgnoreLabels []int
	// Masks are per-instance bitmaps aligned 1:1 with Boxes.
	Masks *images.BitmapMasks
	// SegMap is a single-channel semantic segmentation map.
	SegMap *images.Image
	// Groups declares which of the annotation groups above are active.
	Groups Groups

	// OrigShape is the shape at load time, before any geometry.
	OrigShape Shape
	// Shape is the current image shape.
	Shape Shape
	// PadShape is the shape after padding; equals Shape when unpadded.
	PadShape Shape
	// ScaleFactor is the cumulative resize factor relative to OrigShape.
	ScaleFactor ScaleFactor
	// KeepRatio records whether the last resize preserved aspect ratio.
	KeepRatio bool

	// TargetScale, when set (by a TTA wrapper), pins the scale the next
	// resize stage must use instead of sampling one.
	TargetScale *Scale
	// FlipDecision, when set, pins the flip the next flip stage must apply.
	FlipDecision *FlipSpec
	// Flipped and FlipDirection record the flip actually applied.
	Flipped       bool
	FlipDirection images.FlipDirection

	// Norm records the normalization parameters once applied.
	Norm *NormParams
	// PadOffsets is letterbox padding as (top, bottom, left, right).
	PadOffsets [4]float32
	// Border is the center-crop-pad border as (top, bottom, left, right).
	Border [4]float32
}

// Clone returns a deep copy of the record. Stages clone before modifying so
// no two pipeline steps alias the same buffers.
func (r *Record) Clone() *Record {
	out := *r
	if r.Image != nil {
		out.Image = r.Image.Clone()
	}
	out.Boxes = images.CloneBoxes(r.Boxes)
	out.Labels = append([]int(nil), r.Labels...)
	out.IgnoreBoxes = images.CloneBoxes(r.IgnoreBoxes)
	out.IgnoreLabels = append([]int(nil), r.IgnoreLabels...)
	if r.Masks != nil {
		masks := make([][]uint8, len(r.Masks.Masks))
		for i, m := range r.Masks.Masks {
			masks[i] = append([]uint8(nil), m...)
		}
		out.Masks = &images.BitmapMasks{Masks: masks, Height: r.Masks.Height, Width: r.Masks.Width}
	}
	if r.SegMap != nil {
		out.SegMap = r.SegMap.Clone()
	}
	if r.TargetScale != nil {
		s := *r.TargetScale
		out.TargetScale = &s
	}
	if r.FlipDecision != nil {
		f := *r.FlipDecision
		out.FlipDecision = &f
	}
	if r.Norm != nil {
		n := *r.Norm
		out.Norm = &n
	}
	return &out
}

// Meta is the per-image bookkeeping consumed by test-time post-processing.
type Meta struct {
	Filename      string
	ImageID       int
	OrigShape     Shape
	Shape         Shape
	PadShape      Shape
	ScaleFactor   ScaleFactor
	Flipped       bool
	FlipDirection images.FlipDirection
	Norm          *NormParams
	Border        [4]float32
}

// Meta snapshots the record's bookkeeping fields.
func (r *Record) Meta() Meta {
	return Meta{
		Filename:      r.Filename,
		ImageID:       r.ImageID,
		OrigShape:     r.OrigShape,
		Shape:         r.Shape,
		PadShape:      r.PadShape,
		ScaleFactor:   r.ScaleFactor,
		Flipped:       r.Flipped,
		FlipDirection: r.FlipDirection,
		Norm:          r.Norm,
		Border:        r.Border,
	}
}

// Rejection is the recoverable "this sample did not survive augmentation"
// outcome. It is not a failure: the dataset-level caller catches it and
// resamples a different index from the same aspect-ratio group.
type Rejection struct {
	// Stage names the transform that rejected the sample.
	Stage string
	// Reason is a human-readable description of the policy that fired.
	Reason string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("pipeline: sample rejected by %s: %s", r.Stage, r.Reason)
}

// Reject builds a Rejection error for the given stage.
func Reject(stage, format string, args ...interface{}) error {
	return &Rejection{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is (or wraps) a sample rejection.
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}
