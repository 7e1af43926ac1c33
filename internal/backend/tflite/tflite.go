//go:build tflite

package tflite

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-tflite"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

// Engine runs a .tflite flatbuffer, typically a fully integer-quantized export.
// The interpreter is not reentrant, so the engine reports itself as
// non-concurrent and the backend serializes calls.
type Engine struct {
	cfg Config

	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
}

// New returns an engine for the given artifact.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Load opens the flatbuffer, allocates tensors and reads the quantization
// parameters the converter embedded in the graph.
func (e *Engine) Load(ctx context.Context) (backend.Signature, error) {
	if e.cfg.ModelPath == "" {
		return backend.Signature{}, errors.New("no tflite model configured")
	}
	if _, err := os.Stat(e.cfg.ModelPath); err != nil {
		return backend.Signature{}, fmt.Errorf("model file: %w", err)
	}

	e.model = tflite.NewModelFromFile(e.cfg.ModelPath)
	if e.model == nil {
		return backend.Signature{}, fmt.Errorf("cannot load model %s", e.cfg.ModelPath)
	}
	e.options = tflite.NewInterpreterOptions()
	if e.cfg.Threads > 0 {
		e.options.SetNumThread(e.cfg.Threads)
	}
	e.interp = tflite.NewInterpreter(e.model, e.options)
	if e.interp == nil {
		e.Close()
		return backend.Signature{}, errors.New("cannot create interpreter")
	}
	if status := e.interp.AllocateTensors(); status != tflite.OK {
		e.Close()
		return backend.Signature{}, fmt.Errorf("allocate tensors: status %v", status)
	}

	in, out := e.interp.GetInputTensor(0), e.interp.GetOutputTensor(0)
	inType, inQuant, err := describe(in)
	if err != nil {
		e.Close()
		return backend.Signature{}, fmt.Errorf("input: %w", err)
	}
	outType, outQuant, err := describe(out)
	if err != nil {
		e.Close()
		return backend.Signature{}, fmt.Errorf("output: %w", err)
	}

	return backend.Signature{
		InputShape:  dims(in),
		InputType:   inType,
		InputQuant:  inQuant,
		OutputShape: dims(out),
		OutputType:  outType,
		OutputQuant: outQuant,
	}, nil
}

func describe(t *tflite.Tensor) (tensor.DType, *tensor.Quantization, error) {
	var dtype tensor.DType
	switch t.Type() {
	case tflite.Float32:
		return tensor.Float32, nil, nil
	case tflite.UInt8:
		dtype = tensor.Uint8
	case tflite.Int8:
		dtype = tensor.Int8
	default:
		return "", nil, fmt.Errorf("unsupported tensor type %v", t.Type())
	}
	qp := t.QuantizationParams()
	return dtype, &tensor.Quantization{Scale: qp.Scale, ZeroPoint: qp.ZeroPoint}, nil
}

func dims(t *tflite.Tensor) []int64 {
	out := make([]int64, t.NumDims())
	for i := range out {
		out[i] = int64(t.Dim(i))
	}
	return out
}

// Predict copies the input into the interpreter, invokes it and copies the
// output back into Go memory.
func (e *Engine) Predict(in tensor.Buffer) (tensor.Buffer, error) {
	input := e.interp.GetInputTensor(0)
	if status := input.CopyFromBuffer(in.Data); status != tflite.OK {
		return tensor.Buffer{}, fmt.Errorf("copy input: status %v", status)
	}
	if status := e.interp.Invoke(); status != tflite.OK {
		return tensor.Buffer{}, fmt.Errorf("invoke: status %v", status)
	}

	output := e.interp.GetOutputTensor(0)
	buf := tensor.Buffer{Shape: dims(output)}
	switch output.Type() {
	case tflite.Float32:
		buf.DType, buf.Data = tensor.Float32, append([]float32(nil), output.Float32s()...)
	case tflite.UInt8:
		buf.DType, buf.Data = tensor.Uint8, append([]uint8(nil), output.UInt8s()...)
	case tflite.Int8:
		buf.DType, buf.Data = tensor.Int8, append([]int8(nil), output.Int8s()...)
	default:
		return tensor.Buffer{}, fmt.Errorf("unsupported output type %v", output.Type())
	}
	return buf, nil
}

// Close releases the interpreter, its options and the model.
func (e *Engine) Close() error {
	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
