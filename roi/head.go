package roi

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
)

// DeltaBoxHeadConfig configures a DeltaBoxHead.
type DeltaBoxHeadConfig struct {
	// Classes is the number of foreground classes.
	Classes int `json:"classes" yaml:"classes"`
	// TargetMeans and TargetStds denormalize the regression deltas.
	TargetMeans [4]float32 `json:"target_means" yaml:"target_means"`
	// TargetStds defaults to (0.1, 0.1, 0.2, 0.2) when zero.
	TargetStds [4]float32 `json:"target_stds" yaml:"target_stds"`
	// ClassAgnostic regresses one shared box per RoI instead of one per class.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
	// WHRatioClip bounds exp() growth of width and height deltas.
	// Defaults to 16/1000.
	WHRatioClip float32 `json:"wh_ratio_clip,omitempty" yaml:"wh_ratio_clip,omitempty"`
}

// DeltaBoxHead decodes (dx, dy, dw, dh) regression deltas against RoIs and
// turns raw class logits into softmax scores.
type DeltaBoxHead struct {
	cfg      DeltaBoxHeadConfig
	maxRatio float32
}

// NewDeltaBoxHead validates the class count and applies the usual defaults.
func NewDeltaBoxHead(cfg DeltaBoxHeadConfig) (*DeltaBoxHead, error) {
	if cfg.Classes < 1 {
		return nil, errors.Errorf("box head: need at least 1 class, got %d", cfg.Classes)
	}
	if cfg.TargetStds == [4]float32{} {
		cfg.TargetStds = [4]float32{0.1, 0.1, 0.2, 0.2}
	}
	for _, s := range cfg.TargetStds {
		if s <= 0 {
			return nil, errors.Errorf("box head: non-positive target std %v", s)
		}
	}
	if cfg.WHRatioClip == 0 {
		cfg.WHRatioClip = 16.0 / 1000
	}
	return &DeltaBoxHead{cfg: cfg, maxRatio: math32.Abs(math32.Log(cfg.WHRatioClip))}, nil
}

// NumClasses implements BoxHead.
func (h *DeltaBoxHead) NumClasses() int { return h.cfg.Classes }

// Decode implements BoxHead.
func (h *DeltaBoxHead) Decode(rois []RoI, rawScores, rawDeltas [][]float32, shape pipeline.Shape) ([][]images.Box, [][]float32, error) {
	if len(rawScores) != len(rois) {
		return nil, nil, errors.Errorf("box head: %d score rows for %d rois", len(rawScores), len(rois))
	}
	boxesPerRoI := 1
	if !h.cfg.ClassAgnostic {
		boxesPerRoI = h.cfg.Classes
	}

	boxes := make([][]images.Box, len(rois))
	scores := make([][]float32, len(rois))
	for i, roi := range rois {
		if len(rawScores[i]) != h.cfg.Classes+1 {
			return nil, nil, errors.Errorf("box head: roi %d has %d logits, want %d", i, len(rawScores[i]), h.cfg.Classes+1)
		}
		scores[i] = softmax(rawScores[i])

		if rawDeltas == nil {
			// No regression branch: the proposal itself is the candidate.
			boxes[i] = []images.Box{roi.Box.Clip(shape.Height, shape.Width)}
			continue
		}
		if len(rawDeltas[i]) != boxesPerRoI*4 {
			return nil, nil, errors.Errorf("box head: roi %d has %d delta values, want %d", i, len(rawDeltas[i]), boxesPerRoI*4)
		}
		boxes[i] = make([]images.Box, boxesPerRoI)
		for c := 0; c < boxesPerRoI; c++ {
			boxes[i][c] = h.decodeDelta(roi.Box, rawDeltas[i][c*4:c*4+4]).Clip(shape.Height, shape.Width)
		}
	}
	return boxes, scores, nil
}

// decodeDelta applies one denormalized (dx, dy, dw, dh) delta to a proposal.
func (h *DeltaBoxHead) decodeDelta(p images.Box, d []float32) images.Box {
	dx := d[0]*h.cfg.TargetStds[0] + h.cfg.TargetMeans[0]
	dy := d[1]*h.cfg.TargetStds[1] + h.cfg.TargetMeans[1]
	dw := d[2]*h.cfg.TargetStds[2] + h.cfg.TargetMeans[2]
	dh := d[3]*h.cfg.TargetStds[3] + h.cfg.TargetMeans[3]
	dw = math32.Min(math32.Max(dw, -h.maxRatio), h.maxRatio)
	dh = math32.Min(math32.Max(dh, -h.maxRatio), h.maxRatio)

	pw, ph := p.Width(), p.Height()
	px, py := p.Center()
	gw := pw * math32.Exp(dw)
	gh := ph * math32.Exp(dh)
	gx := px + pw*dx
	gy := py + ph*dy
	return images.Box{X1: gx - gw/2, Y1: gy - gh/2, X2: gx + gw/2, Y2: gy + gh/2}
}

func softmax(logits []float32) []float32 {
	maxL := logits[0]
	for _, l := range logits[1:] {
		if l > maxL {
			maxL = l
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, l := range logits {
		out[i] = math32.Exp(l - maxL)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// PasteMaskHeadConfig configures a PasteMaskHead.
type PasteMaskHeadConfig struct {
	// Classes is the number of foreground classes.
	Classes int `json:"classes" yaml:"classes"`
	// Threshold binarizes pasted probability maps. Defaults to 0.5.
	Threshold float32 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// ClassAgnostic uses a single shared map per RoI instead of one per class.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
}

// PasteMaskHead resizes each RoI's probability map into its detection box on
// a full-resolution canvas and thresholds it into a bitmap.
type PasteMaskHead struct {
	cfg PasteMaskHeadConfig
}

// NewPasteMaskHead validates the class count and threshold.
func NewPasteMaskHead(cfg PasteMaskHeadConfig) (*PasteMaskHead, error) {
	if cfg.Classes < 1 {
		return nil, errors.Errorf("mask head: need at least 1 class, got %d", cfg.Classes)
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, errors.Errorf("mask head: threshold %v outside [0, 1]", cfg.Threshold)
	}
	return &PasteMaskHead{cfg: cfg}, nil
}

// NumClasses implements MaskHead.
func (h *PasteMaskHead) NumClasses() int { return h.cfg.Classes }

// Masks implements MaskHead.
func (h *PasteMaskHead) Masks(pred *MaskPred, boxes []images.Box, labels []int, origShape pipeline.Shape,
	sf pipeline.ScaleFactor, rescale bool) ([]*images.BitmapMasks, error) {

	if pred.N != len(boxes) || len(boxes) != len(labels) {
		return nil, errors.Errorf("mask head: %d predictions, %d boxes, %d labels", pred.N, len(boxes), len(labels))
	}

	perClass := make([][][]uint8, h.cfg.Classes)
	for i, b := range boxes {
		label := labels[i]
		if label < 0 || label >= h.cfg.Classes {
			return nil, errors.Errorf("mask head: label %d outside [0, %d)", label, h.cfg.Classes)
		}
		class := label
		if h.cfg.ClassAgnostic || pred.Classes == 1 {
			class = 0
		}
		if rescale {
			b = b.Scale(1/sf.W, 1/sf.H)
		}
		perClass[label] = append(perClass[label], h.paste(pred.mapAt(i, class), pred.H, pred.W, b, origShape))
	}

	out := make([]*images.BitmapMasks, h.cfg.Classes)
	for c := range out {
		m, err := images.NewBitmapMasks(perClass[c], origShape.Height, origShape.Width)
		if err != nil {
			return nil, err
		}
		out[c] = m
	}
	return out, nil
}

// paste bilinearly samples the probability map over the box extent and
// thresholds into a full-resolution bitmap.
func (h *PasteMaskHead) paste(prob []float32, ph, pw int, b images.Box, shape pipeline.Shape) []uint8 {
	out := make([]uint8, shape.Height*shape.Width)
	bx := b.Clip(shape.Height, shape.Width)
	x1, y1 := int(bx.X1), int(bx.Y1)
	x2, y2 := int(math32.Ceil(bx.X2)), int(math32.Ceil(bx.Y2))
	boxW := math32.Max(bx.Width(), 1)
	boxH := math32.Max(bx.Height(), 1)

	for y := y1; y < y2 && y < shape.Height; y++ {
		fy := (float32(y) + 0.5 - bx.Y1) / boxH * float32(ph)
		for x := x1; x < x2 && x < shape.Width; x++ {
			fx := (float32(x) + 0.5 - bx.X1) / boxW * float32(pw)
			if sampleBilinear(prob, ph, pw, fy-0.5, fx-0.5) >= h.cfg.Threshold {
				out[y*shape.Width+x] = 1
			}
		}
	}
	return out
}

// sampleBilinear reads a probability map at fractional coordinates with edge
// clamping.
func sampleBilinear(prob []float32, h, w int, fy, fx float32) float32 {
	y0 := int(math32.Floor(fy))
	x0 := int(math32.Floor(fx))
	wy := fy - float32(y0)
	wx := fx - float32(x0)

	clampI := func(v, n int) int {
		if v < 0 {
			return 0
		}
		if v >= n {
			return n - 1
		}
		return v
	}
	y0c, y1c := clampI(y0, h), clampI(y0+1, h)
	x0c, x1c := clampI(x0, w), clampI(x0+1, w)

	top := prob[y0c*w+x0c]*(1-wx) + prob[y0c*w+x1c]*wx
	bot := prob[y1c*w+x0c]*(1-wx) + prob[y1c*w+x1c]*wx
	return top*(1-wy) + bot*wy
}
