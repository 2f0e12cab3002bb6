package onnx

import (
	"context"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/visionkit-ai/go-visionkit/images"
)

// EmbedderConfig configures an ONNX embedding model.
type EmbedderConfig struct {
	Session SessionConfig `json:"session" yaml:"session"`
	// WithBoxes feeds each crop's source box as a second (n, 4) input, for
	// models whose head conditions on the crop's location.
	WithBoxes bool `json:"with_boxes,omitempty" yaml:"with_boxes,omitempty"`
}

// Embedder runs an embedding graph mapping an NCHW crop batch to one
// fixed-length vector per crop.
type Embedder struct {
	sess *Session
	cfg  EmbedderConfig
}

// NewEmbedder loads the embedding model.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	wantInputs := 1
	if cfg.WithBoxes {
		wantInputs = 2
	}
	if len(cfg.Session.InputNames) != wantInputs {
		return nil, errors.Errorf("embedder: %d input names, want %d", len(cfg.Session.InputNames), wantInputs)
	}
	sess, err := NewSession(cfg.Session)
	if err != nil {
		return nil, err
	}
	return &Embedder{sess: sess, cfg: cfg}, nil
}

// Embed runs the model on a preprocessed crop batch.
//
// Arguments:
//   - ctx: Cancellation checked before the run.
//   - batch: NCHW float32 crops.
//   - boxes: Source box per crop; required when the model takes box input,
//     ignored otherwise.
//
// Returns:
//   - [][]float32: One embedding per crop.
//   - error: Non-nil on run failures or layout mismatches.
func (e *Embedder) Embed(ctx context.Context, batch *tensor.Dense, boxes []images.Box) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "embed")
	}
	n := batch.Shape()[0]

	input, err := tensorFromDense(batch)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()
	inputs := []*ort.Tensor[float32]{input}

	if e.cfg.WithBoxes {
		if len(boxes) != n {
			return nil, errors.Errorf("embed: %d boxes for batch of %d", len(boxes), n)
		}
		boxData := make([]float32, 0, 4*n)
		for _, b := range boxes {
			boxData = append(boxData, b.X1, b.Y1, b.X2, b.Y2)
		}
		boxTensor, err := ort.NewTensor(ort.NewShape(int64(n), 4), boxData)
		if err != nil {
			return nil, errors.Wrap(err, "embed: create box tensor")
		}
		defer boxTensor.Destroy()
		inputs = append(inputs, boxTensor)
	}

	outputs, err := e.sess.Run(inputs)
	if err != nil {
		return nil, err
	}
	out := outputs[0]
	if len(out.Shape) != 2 || int(out.Shape[0]) != n {
		return nil, errors.Errorf("embed: unexpected output shape %v for batch of %d", out.Shape, n)
	}

	dim := int(out.Shape[1])
	embeddings := make([][]float32, n)
	for i := 0; i < n; i++ {
		embeddings[i] = out.Data[i*dim : (i+1)*dim]
	}
	return embeddings, nil
}

// Close releases the session.
func (e *Embedder) Close() error { return e.sess.Close() }
