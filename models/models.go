// Package models - the model contracts of the inference tasks and the
// factory that binds them to concrete backends.
package models

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/visionkit-ai/go-visionkit/images"
	"github.com/visionkit-ai/go-visionkit/models/onnx"
	"github.com/visionkit-ai/go-visionkit/pipeline"
	"github.com/visionkit-ai/go-visionkit/roi"
)

// Detector produces per-image detections from a preprocessed batch. Boxes
// come back in original image coordinates.
type Detector interface {
	Classes() []string
	SetClasses([]string)
	Detect(ctx context.Context, batch *tensor.Dense, metas []pipeline.Meta) ([][]roi.Detection, error)
	Close() error
}

// Embedder maps a preprocessed crop batch to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, batch *tensor.Dense, boxes []images.Box) ([][]float32, error)
	Close() error
}

// Name identifies a model backend. The set is closed.
type Name string

const (
	// NameONNXDetector is a detection graph run through ONNX Runtime.
	NameONNXDetector Name = "onnx-detector"
	// NameONNXEmbedder is an embedding graph run through ONNX Runtime.
	NameONNXEmbedder Name = "onnx-embedder"
)

// DetectorSpec selects and configures a detector backend.
type DetectorSpec struct {
	Name Name                `json:"name" yaml:"name"`
	ONNX onnx.DetectorConfig `json:"onnx" yaml:"onnx"`
}

// EmbedderSpec selects and configures an embedder backend.
type EmbedderSpec struct {
	Name Name                `json:"name" yaml:"name"`
	ONNX onnx.EmbedderConfig `json:"onnx" yaml:"onnx"`
}

// NewDetector constructs the named detector backend.
func NewDetector(spec DetectorSpec) (Detector, error) {
	switch spec.Name {
	case NameONNXDetector:
		return onnx.NewDetector(spec.ONNX)
	default:
		return nil, errors.Errorf("unknown detector backend %q", spec.Name)
	}
}

// NewEmbedder constructs the named embedder backend.
func NewEmbedder(spec EmbedderSpec) (Embedder, error) {
	switch spec.Name {
	case NameONNXEmbedder:
		return onnx.NewEmbedder(spec.ONNX)
	default:
		return nil, errors.Errorf("unknown embedder backend %q", spec.Name)
	}
}

var (
	_ Detector = (*onnx.Detector)(nil)
	_ Embedder = (*onnx.Embedder)(nil)
)
