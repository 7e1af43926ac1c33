package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

type fixedEngine struct {
	sig backend.Signature
	err error
}

func (f fixedEngine) Load(ctx context.Context) (backend.Signature, error) { return f.sig, f.err }
func (f fixedEngine) Predict(in tensor.Buffer) (tensor.Buffer, error)     { return tensor.Buffer{}, nil }
func (f fixedEngine) Close() error                                        { return nil }

func TestReportBeforeLoading(t *testing.T) {
	reg, err := backend.NewRegistry(zap.NewNop(),
		backend.Registration{Kind: backend.KindNative, Engine: fixedEngine{err: errors.New("missing")}},
	)
	require.NoError(t, err)

	rep := NewReporter(reg).Report()
	assert.False(t, rep.Attempted)
	assert.Empty(t, rep.Active)
	assert.Equal(t, backend.StatusNotAttempted, rep.Backends["native"].Status)
	assert.False(t, reg.Loaded(), "reporting must not trigger loading")
}

func TestReportAgreesWithSelectActive(t *testing.T) {
	quantized := backend.Signature{
		InputShape:  []int64{1, 3, 224, 224},
		InputType:   tensor.Uint8,
		InputQuant:  &tensor.Quantization{Scale: 0.02, ZeroPoint: 114},
		OutputShape: []int64{1, 15},
		OutputType:  tensor.Uint8,
		OutputQuant: &tensor.Quantization{Scale: 0.1, ZeroPoint: 0},
	}
	reg, err := backend.NewRegistry(zap.NewNop(),
		backend.Registration{Kind: backend.KindNative, Engine: fixedEngine{err: errors.New("weights missing")}},
		backend.Registration{Kind: backend.KindONNX, Engine: fixedEngine{sig: quantized}},
		backend.Registration{Kind: backend.KindTFLite, Engine: fixedEngine{sig: quantized}},
	)
	require.NoError(t, err)
	reg.LoadAll(context.Background())

	rep := NewReporter(reg).Report()
	assert.True(t, rep.Attempted)
	assert.Equal(t, string(reg.SelectActive().Kind), rep.Active)
	assert.Equal(t, "onnx", rep.Active)

	native := rep.Backends["native"]
	assert.Equal(t, backend.StatusFailed, native.Status)
	assert.Contains(t, native.LoadError, "weights missing")
	assert.Empty(t, native.InputShape)

	onnx := rep.Backends["onnx"]
	assert.Equal(t, backend.StatusLoaded, onnx.Status)
	assert.Equal(t, []int64{1, 15}, onnx.OutputShape)
	assert.Equal(t, "uint8", onnx.OutputDType)
	assert.True(t, onnx.Quantized)
	assert.Empty(t, onnx.LoadError)
	assert.Equal(t, 1, onnx.Priority)
}

func TestReportMockWhenNothingLoads(t *testing.T) {
	reg, err := backend.NewRegistry(zap.NewNop(),
		backend.Registration{Kind: backend.KindONNX, Engine: fixedEngine{err: errors.New("no runtime")}},
	)
	require.NoError(t, err)
	reg.LoadAll(context.Background())

	rep := NewReporter(reg).Report()
	assert.Equal(t, "mock", rep.Active)
	assert.Nil(t, reg.SelectActive())
}
