// Package onnx executes exported ONNX graphs through onnxruntime.
package onnx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

// Metadata is the sidecar file written next to the exported graph.
type Metadata struct {
	InputName          string               `json:"input_name"`
	OutputName         string               `json:"output_name"`
	InputShape         []int64              `json:"input_shape"`
	OutputShape        []int64              `json:"output_shape"`
	InputDType         string               `json:"input_dtype"`
	OutputDType        string               `json:"output_dtype"`
	InputQuantization  *tensor.Quantization `json:"input_quantization,omitempty"`
	OutputQuantization *tensor.Quantization `json:"output_quantization,omitempty"`
}

// Config locates the graph, its metadata and optionally the runtime library.
type Config struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
}

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment brings up the process-wide onnxruntime environment once.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("initialize onnxruntime: %w", err)
		}
	})
	return envErr
}

// Engine wraps one AdvancedSession with pre-allocated tensors. The tensors
// are reused between runs, so the engine is not safe for concurrent use.
type Engine struct {
	cfg     Config
	meta    Metadata
	session *ort.AdvancedSession
	input   ort.ArbitraryTensor
	output  ort.ArbitraryTensor
}

// New returns an engine for the given artifact.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Load reads the metadata, allocates IO tensors and opens the session.
func (e *Engine) Load(ctx context.Context) (backend.Signature, error) {
	if e.cfg.ModelPath == "" {
		return backend.Signature{}, errors.New("no onnx model configured")
	}
	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		return backend.Signature{}, fmt.Errorf("model file: %w", err)
	}
	meta, err := readMetadata(e.cfg.MetadataPath)
	if err != nil {
		return backend.Signature{}, err
	}
	inType, err := tensor.ParseDType(meta.InputDType)
	if err != nil {
		return backend.Signature{}, err
	}
	outType, err := tensor.ParseDType(meta.OutputDType)
	if err != nil {
		return backend.Signature{}, err
	}

	if err := initEnvironment(e.cfg.LibraryPath); err != nil {
		return backend.Signature{}, err
	}

	input, err := newTensor(inType, meta.InputShape)
	if err != nil {
		return backend.Signature{}, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := newTensor(outType, meta.OutputShape)
	if err != nil {
		input.Destroy()
		return backend.Signature{}, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(e.cfg.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return backend.Signature{}, fmt.Errorf("create onnx session: %w", err)
	}

	e.meta, e.session, e.input, e.output = meta, session, input, output
	return backend.Signature{
		InputShape:  meta.InputShape,
		InputType:   inType,
		InputQuant:  meta.InputQuantization,
		OutputShape: meta.OutputShape,
		OutputType:  outType,
		OutputQuant: meta.OutputQuantization,
	}, nil
}

func readMetadata(path string) (Metadata, error) {
	if path == "" {
		return Metadata{}, errors.New("no onnx metadata configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	for _, shape := range [][]int64{meta.InputShape, meta.OutputShape} {
		if len(shape) == 0 {
			return Metadata{}, errors.New("metadata is missing a tensor shape")
		}
		for _, d := range shape {
			if d <= 0 {
				return Metadata{}, fmt.Errorf("dynamic dimension in %v is not supported", shape)
			}
		}
	}
	return meta, nil
}

func newTensor(dtype tensor.DType, shape []int64) (ort.ArbitraryTensor, error) {
	s := ort.NewShape(shape...)
	switch dtype {
	case tensor.Float32:
		return ort.NewEmptyTensor[float32](s)
	case tensor.Uint8:
		return ort.NewEmptyTensor[uint8](s)
	case tensor.Int8:
		return ort.NewEmptyTensor[int8](s)
	}
	return nil, fmt.Errorf("onnx engine does not support %s tensors", dtype)
}

// Predict copies the input into the session tensor, runs the graph and copies
// the output out so the caller never aliases session memory.
func (e *Engine) Predict(in tensor.Buffer) (tensor.Buffer, error) {
	if err := fill(e.input, in.Data); err != nil {
		return tensor.Buffer{}, err
	}
	if err := e.session.Run(); err != nil {
		return tensor.Buffer{}, fmt.Errorf("inference failed: %w", err)
	}
	return drain(e.output)
}

func fill(dst ort.ArbitraryTensor, src any) error {
	switch t := dst.(type) {
	case *ort.Tensor[float32]:
		return copyInto(t.GetData(), src)
	case *ort.Tensor[uint8]:
		return copyInto(t.GetData(), src)
	case *ort.Tensor[int8]:
		return copyInto(t.GetData(), src)
	}
	return fmt.Errorf("unsupported input tensor %T", dst)
}

func copyInto[T float32 | uint8 | int8](dst []T, src any) error {
	data, ok := src.([]T)
	if !ok {
		return fmt.Errorf("input is %T, session expects %T", src, dst)
	}
	if len(data) != len(dst) {
		return fmt.Errorf("input holds %d values, session expects %d", len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

func drain(src ort.ArbitraryTensor) (tensor.Buffer, error) {
	switch t := src.(type) {
	case *ort.Tensor[float32]:
		return tensor.Buffer{Shape: shapeOf(t.GetShape()), DType: tensor.Float32, Data: clone(t.GetData())}, nil
	case *ort.Tensor[uint8]:
		return tensor.Buffer{Shape: shapeOf(t.GetShape()), DType: tensor.Uint8, Data: clone(t.GetData())}, nil
	case *ort.Tensor[int8]:
		return tensor.Buffer{Shape: shapeOf(t.GetShape()), DType: tensor.Int8, Data: clone(t.GetData())}, nil
	}
	return tensor.Buffer{}, fmt.Errorf("unsupported output tensor %T", src)
}

func clone[T any](s []T) []T {
	out := make([]T, len(s))
	copy(out, s)
	return out
}

func shapeOf(s ort.Shape) []int64 {
	return append([]int64(nil), s...)
}

// Close releases the session and its tensors.
func (e *Engine) Close() error {
	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}
	if e.input != nil {
		errs = append(errs, e.input.Destroy())
		e.input = nil
	}
	if e.output != nil {
		errs = append(errs, e.output.Destroy())
		e.output = nil
	}
	return errors.Join(errs...)
}
