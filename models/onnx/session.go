// Package onnx - ONNX Runtime backed implementations of the model contracts.
package onnx

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime loads the shared ONNX Runtime library once per process.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			if _, err := os.Stat(libraryPath); os.IsNotExist(err) {
				runtimeErr = errors.Errorf("onnxruntime library not found at %s", libraryPath)
				return
			}
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime")
	})
	return runtimeErr
}

// SessionConfig configures one model session.
type SessionConfig struct {
	// ModelPath is the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path,omitempty" yaml:"library_path,omitempty"`
	// InputNames and OutputNames are the graph's bound tensor names.
	InputNames  []string `json:"input_names" yaml:"input_names"`
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// IntraOpThreads and InterOpThreads bound the runtime's parallelism.
	// Zero keeps the runtime default.
	IntraOpThreads int `json:"intra_op_threads,omitempty" yaml:"intra_op_threads,omitempty"`
	InterOpThreads int `json:"inter_op_threads,omitempty" yaml:"inter_op_threads,omitempty"`
}

// Session wraps a dynamic-shape onnxruntime session so batches of varying
// size can share one loaded graph.
type Session struct {
	sess *ort.DynamicAdvancedSession
	cfg  SessionConfig
}

// NewSession loads the model and prepares a reusable session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, errors.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if len(cfg.InputNames) == 0 || len(cfg.OutputNames) == 0 {
		return nil, errors.New("session: input and output names are required")
	}
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "set intra-op threads")
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return nil, errors.Wrap(err, "set inter-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return nil, errors.Wrap(err, "set optimization level")
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, cfg.InputNames, cfg.OutputNames, options)
	if err != nil {
		return nil, errors.Wrapf(err, "create session for %s", cfg.ModelPath)
	}
	return &Session{sess: sess, cfg: cfg}, nil
}

// Output is one result tensor of a session run.
type Output struct {
	Data  []float32
	Shape []int64
}

// Run executes the graph on the given inputs and copies every output out of
// runtime-owned memory.
func (s *Session) Run(inputs []*ort.Tensor[float32]) ([]Output, error) {
	if len(inputs) != len(s.cfg.InputNames) {
		return nil, errors.Errorf("session: %d inputs for %d bound names", len(inputs), len(s.cfg.InputNames))
	}
	in := make([]ort.Value, len(inputs))
	for i, t := range inputs {
		in[i] = t
	}
	out := make([]ort.Value, len(s.cfg.OutputNames))
	if err := s.sess.Run(in, out); err != nil {
		return nil, errors.Wrapf(err, "run %s", s.cfg.ModelPath)
	}

	results := make([]Output, len(out))
	for i, v := range out {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Errorf("session: output %d is not a float32 tensor", i)
		}
		results[i] = Output{
			Data:  append([]float32(nil), t.GetData()...),
			Shape: append([]int64(nil), t.GetShape()...),
		}
		t.Destroy()
	}
	return results, nil
}

// Close releases the loaded session.
func (s *Session) Close() error {
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return errors.Wrap(err, "destroy session")
}

// tensorFromDense views an NCHW batch as an onnxruntime input tensor.
func tensorFromDense(batch *tensor.Dense) (*ort.Tensor[float32], error) {
	data, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.New("session: batch tensor is not float32")
	}
	dims := batch.Shape()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	t, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	return t, nil
}
