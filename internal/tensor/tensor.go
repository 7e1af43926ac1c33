package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType names the element type of a tensor crossing the engine boundary.
type DType string

const (
	Float32 DType = "float32"
	Float16 DType = "float16"
	Uint8   DType = "uint8"
	Int8    DType = "int8"
)

// ParseDType accepts the dtype spellings used by model metadata files.
func ParseDType(s string) (DType, error) {
	switch s {
	case "", "float32", "fp32":
		return Float32, nil
	case "float16", "fp16":
		return Float16, nil
	case "uint8":
		return Uint8, nil
	case "int8":
		return Int8, nil
	}
	return "", fmt.Errorf("tensor: unsupported dtype %q", s)
}

// Quantized reports whether values of this dtype need a scale/zero point.
func (d DType) Quantized() bool {
	return d == Uint8 || d == Int8
}

// Quantization holds the affine parameters of an integer tensor:
// real = (q - ZeroPoint) * Scale.
type Quantization struct {
	Scale     float64 `json:"scale"`
	ZeroPoint int     `json:"zero_point"`
}

var ErrShape = errors.New("tensor: shape mismatch")

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// New validates that data fills shape exactly.
func New(shape []int64, data []float32) (*Tensor, error) {
	if n := Elements(shape); n != int64(len(data)) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Elements returns the number of values a shape holds.
func Elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Matches reports whether got satisfies the declared shape. Declared
// dimensions <= 0 are dynamic and match any size.
func Matches(declared, got []int64) bool {
	if len(declared) != len(got) {
		return false
	}
	for i, d := range declared {
		if d > 0 && d != got[i] {
			return false
		}
	}
	return true
}

// Buffer is a dtype-tagged payload. Data holds one of []float32,
// []float16.Float16, []uint8 or []int8, matching DType.
type Buffer struct {
	Shape []int64
	DType DType
	Data  any
}

// Len returns the number of elements held in Data.
func (b Buffer) Len() int {
	switch v := b.Data.(type) {
	case []float32:
		return len(v)
	case []float16.Float16:
		return len(v)
	case []uint8:
		return len(v)
	case []int8:
		return len(v)
	}
	return 0
}

// Encode converts a float32 tensor into the dtype an engine expects. Integer
// dtypes are quantized with q = round(x/scale) + zero_point, clamped to range.
func Encode(t *Tensor, dtype DType, q *Quantization) (Buffer, error) {
	out := Buffer{Shape: t.Shape, DType: dtype}
	switch dtype {
	case Float32:
		out.Data = t.Data
	case Float16:
		data := make([]float16.Float16, len(t.Data))
		for i, v := range t.Data {
			data[i] = float16.Fromfloat32(v)
		}
		out.Data = data
	case Uint8:
		if err := checkQuantization(q); err != nil {
			return Buffer{}, err
		}
		data := make([]uint8, len(t.Data))
		for i, v := range t.Data {
			data[i] = uint8(quantize(v, q, 0, math.MaxUint8))
		}
		out.Data = data
	case Int8:
		if err := checkQuantization(q); err != nil {
			return Buffer{}, err
		}
		data := make([]int8, len(t.Data))
		for i, v := range t.Data {
			data[i] = int8(quantize(v, q, math.MinInt8, math.MaxInt8))
		}
		out.Data = data
	default:
		return Buffer{}, fmt.Errorf("tensor: cannot encode to %q", dtype)
	}
	return out, nil
}

// Decode widens a buffer to float32. Integer buffers are dequantized with
// value = (raw - zero_point) * scale.
func Decode(b Buffer, q *Quantization) ([]float32, error) {
	switch v := b.Data.(type) {
	case []float32:
		return v, nil
	case []float16.Float16:
		out := make([]float32, len(v))
		for i, h := range v {
			out[i] = h.Float32()
		}
		return out, nil
	case []uint8:
		if err := checkQuantization(q); err != nil {
			return nil, err
		}
		out := make([]float32, len(v))
		for i, raw := range v {
			out[i] = dequantize(int(raw), q)
		}
		return out, nil
	case []int8:
		if err := checkQuantization(q); err != nil {
			return nil, err
		}
		out := make([]float32, len(v))
		for i, raw := range v {
			out[i] = dequantize(int(raw), q)
		}
		return out, nil
	case nil:
		return nil, errors.New("tensor: empty buffer")
	}
	return nil, fmt.Errorf("tensor: unsupported buffer type %T", b.Data)
}

func checkQuantization(q *Quantization) error {
	if q == nil {
		return errors.New("tensor: integer dtype without quantization parameters")
	}
	if q.Scale <= 0 || math.IsNaN(q.Scale) || math.IsInf(q.Scale, 0) {
		return fmt.Errorf("tensor: invalid quantization scale %v", q.Scale)
	}
	return nil
}

func quantize(v float32, q *Quantization, lo, hi float64) float64 {
	x := math.RoundToEven(float64(v)/q.Scale) + float64(q.ZeroPoint)
	return math.Max(lo, math.Min(hi, x))
}

func dequantize(raw int, q *Quantization) float32 {
	return float32(float64(raw-q.ZeroPoint) * q.Scale)
}
