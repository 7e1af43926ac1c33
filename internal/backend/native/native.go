// Package native runs exported weights directly in Go, without a runtime
// library. The artifact is a pooled linear head: each input channel is
// average-pooled over a Grid×Grid lattice and the resulting features are
// multiplied by a dense weight matrix.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/x448/float16"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

// Format is the artifact header every weights file must carry.
const Format = "skinsight-native/v1"

// Artifact is the on-disk layout of a weights file. Weights are row-major
// [Outputs][Channels*Grid*Grid]. When WeightsDType is float16 the matrix is
// read from WeightsFP16 as IEEE half-precision bit patterns.
type Artifact struct {
	Format       string    `json:"format"`
	InputShape   []int64   `json:"input_shape"`
	Grid         int       `json:"grid"`
	Outputs      int       `json:"outputs"`
	WeightsDType string    `json:"weights_dtype"`
	Weights      []float32 `json:"weights,omitempty"`
	WeightsFP16  []uint16  `json:"weights_fp16,omitempty"`
	Bias         []float32 `json:"bias"`
}

// Engine evaluates an Artifact. It is read-only after Load and safe for
// concurrent use.
type Engine struct {
	path string

	channels, height, width int
	grid, outputs           int
	weights, bias           []float32
}

// New returns an engine for the weights file at path.
func New(path string) *Engine {
	return &Engine{path: path}
}

// Load reads and validates the weights file.
func (e *Engine) Load(ctx context.Context) (backend.Signature, error) {
	if e.path == "" {
		return backend.Signature{}, errors.New("no weights file configured")
	}
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return backend.Signature{}, fmt.Errorf("read weights: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return backend.Signature{}, fmt.Errorf("parse weights: %w", err)
	}
	if err := e.init(a); err != nil {
		return backend.Signature{}, err
	}
	return backend.Signature{
		InputShape:  a.InputShape,
		InputType:   tensor.Float32,
		OutputShape: []int64{1, int64(a.Outputs)},
		OutputType:  tensor.Float32,
		Concurrent:  true,
	}, nil
}

func (e *Engine) init(a Artifact) error {
	if a.Format != Format {
		return fmt.Errorf("unexpected weights format %q", a.Format)
	}
	if len(a.InputShape) != 4 || a.InputShape[0] != 1 {
		return fmt.Errorf("input shape must be [1,C,H,W], got %v", a.InputShape)
	}
	c, h, w := int(a.InputShape[1]), int(a.InputShape[2]), int(a.InputShape[3])
	if c <= 0 || a.Grid <= 0 || h < a.Grid || w < a.Grid {
		return fmt.Errorf("grid %d does not fit input %v", a.Grid, a.InputShape)
	}
	if a.Outputs <= 0 {
		return errors.New("artifact declares no outputs")
	}

	weights := a.Weights
	switch a.WeightsDType {
	case "", "float32":
	case "float16":
		weights = make([]float32, len(a.WeightsFP16))
		for i, bits := range a.WeightsFP16 {
			weights[i] = float16.Frombits(bits).Float32()
		}
	default:
		return fmt.Errorf("unsupported weights dtype %q", a.WeightsDType)
	}

	features := c * a.Grid * a.Grid
	if len(weights) != a.Outputs*features {
		return fmt.Errorf("expected %d weights, got %d", a.Outputs*features, len(weights))
	}
	if len(a.Bias) != a.Outputs {
		return fmt.Errorf("expected %d biases, got %d", a.Outputs, len(a.Bias))
	}

	e.channels, e.height, e.width = c, h, w
	e.grid, e.outputs = a.Grid, a.Outputs
	e.weights, e.bias = weights, a.Bias
	return nil
}

// Predict pools the input and applies the linear head.
func (e *Engine) Predict(in tensor.Buffer) (tensor.Buffer, error) {
	data, ok := in.Data.([]float32)
	if !ok {
		return tensor.Buffer{}, fmt.Errorf("native engine expects float32 input, got %T", in.Data)
	}
	if len(data) != e.channels*e.height*e.width {
		return tensor.Buffer{}, fmt.Errorf("input holds %d values, want %d", len(data), e.channels*e.height*e.width)
	}

	features := e.pool(data)
	logits := make([]float32, e.outputs)
	for o := 0; o < e.outputs; o++ {
		row := e.weights[o*len(features) : (o+1)*len(features)]
		sum := float64(e.bias[o])
		for i, f := range features {
			sum += float64(row[i]) * float64(f)
		}
		logits[o] = float32(sum)
	}
	return tensor.Buffer{Shape: []int64{1, int64(e.outputs)}, DType: tensor.Float32, Data: logits}, nil
}

func (e *Engine) pool(data []float32) []float32 {
	g := e.grid
	plane := e.height * e.width
	out := make([]float32, 0, e.channels*g*g)
	for c := 0; c < e.channels; c++ {
		for gy := 0; gy < g; gy++ {
			y0, y1 := gy*e.height/g, (gy+1)*e.height/g
			for gx := 0; gx < g; gx++ {
				x0, x1 := gx*e.width/g, (gx+1)*e.width/g
				var sum float64
				for y := y0; y < y1; y++ {
					row := data[c*plane+y*e.width:]
					for x := x0; x < x1; x++ {
						sum += float64(row[x])
					}
				}
				out = append(out, float32(sum/float64((y1-y0)*(x1-x0))))
			}
		}
	}
	return out
}

// Close is a no-op; the engine holds only Go memory.
func (e *Engine) Close() error { return nil }
