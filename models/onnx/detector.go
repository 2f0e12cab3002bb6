package onnx

import (
	"context"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/pipeline"
	"github.com/visionkit-ai/go-visionkit/roi"
)

// DetectorConfig configures an ONNX detection model.
type DetectorConfig struct {
	Session SessionConfig `json:"session" yaml:"session"`
	// ScoreThr drops detections below this confidence.
	ScoreThr float32 `json:"score_thr" yaml:"score_thr"`
	// Classes are the detector's class names, label order.
	Classes []string `json:"classes" yaml:"classes"`
}

// Detector runs a detection graph whose output is a (batch, maxDet, 6)
// tensor of (x1, y1, x2, y2, score, label) rows in network input
// coordinates. Rows with a negative label are padding. Detections are mapped
// back to each image's original frame before they are returned.
type Detector struct {
	sess    *Session
	cfg     DetectorConfig
	classes []string
}

// NewDetector loads the detection model.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.ScoreThr < 0 || cfg.ScoreThr > 1 {
		return nil, errors.Errorf("detector: score threshold %v outside [0, 1]", cfg.ScoreThr)
	}
	sess, err := NewSession(cfg.Session)
	if err != nil {
		return nil, err
	}
	return &Detector{sess: sess, cfg: cfg, classes: cfg.Classes}, nil
}

// Classes returns the class names in label order.
func (d *Detector) Classes() []string { return d.classes }

// SetClasses overrides the class names, e.g. from a checkpoint's metadata.
func (d *Detector) SetClasses(classes []string) { d.classes = classes }

// Detect runs the model on a preprocessed NCHW batch.
//
// Arguments:
//   - ctx: Cancellation checked before the (non-interruptible) run.
//   - batch: NCHW float32 input, one row per meta.
//   - metas: Per-image bookkeeping used to undo resizing.
//
// Returns:
//   - [][]roi.Detection: Per-image detections in original image coordinates.
//   - error: Non-nil on run failures or layout mismatches.
func (d *Detector) Detect(ctx context.Context, batch *tensor.Dense, metas []pipeline.Meta) ([][]roi.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "detect")
	}
	if batch.Shape()[0] != len(metas) {
		return nil, errors.Errorf("detect: batch size %d but %d metas", batch.Shape()[0], len(metas))
	}

	input, err := tensorFromDense(batch)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs, err := d.sess.Run([]*ort.Tensor[float32]{input})
	if err != nil {
		return nil, err
	}
	return d.decode(outputs[0], metas)
}

// decode filters and rescales the raw (batch, maxDet, 6) output.
func (d *Detector) decode(out Output, metas []pipeline.Meta) ([][]roi.Detection, error) {
	if len(out.Shape) != 3 || out.Shape[2] != 6 {
		return nil, errors.Errorf("detect: unexpected output shape %v", out.Shape)
	}
	batch, maxDet := int(out.Shape[0]), int(out.Shape[1])
	if batch != len(metas) {
		return nil, errors.Errorf("detect: %d output rows but %d metas", batch, len(metas))
	}

	results := make([][]roi.Detection, batch)
	for i := 0; i < batch; i++ {
		meta := metas[i]
		for j := 0; j < maxDet; j++ {
			row := out.Data[(i*maxDet+j)*6 : (i*maxDet+j)*6+6]
			label := int(row[5])
			if label < 0 || row[4] < d.cfg.ScoreThr {
				continue
			}
			box := images.Box{X1: row[0], Y1: row[1], X2: row[2], Y2: row[3]}
			if meta.Flipped {
				box = images.FlipBoxes([]images.Box{box}, meta.Shape.Height, meta.Shape.Width, meta.FlipDirection)[0]
			}
			box = box.Scale(1/meta.ScaleFactor.W, 1/meta.ScaleFactor.H).
				Clip(meta.OrigShape.Height, meta.OrigShape.Width)
			results[i] = append(results[i], roi.Detection{Box: box, Score: row[4], Label: label})
		}
	}
	return results, nil
}

// Close releases the session.
func (d *Detector) Close() error { return d.sess.Close() }
