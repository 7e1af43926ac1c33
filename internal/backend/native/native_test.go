package native

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/example/skinsight/internal/tensor"
)

func writeArtifact(t *testing.T, a Artifact) string {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "weights.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

// One channel, 2x2 input, grid 1: the single feature is the mean pixel.
func meanArtifact() Artifact {
	return Artifact{
		Format:     Format,
		InputShape: []int64{1, 1, 2, 2},
		Grid:       1,
		Outputs:    2,
		Weights:    []float32{1, -1},
		Bias:       []float32{0, 0.5},
	}
}

func TestLoadDeclaresSignature(t *testing.T) {
	e := New(writeArtifact(t, meanArtifact()))

	sig, err := e.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 2, 2}, sig.InputShape)
	assert.Equal(t, []int64{1, 2}, sig.OutputShape)
	assert.True(t, sig.Concurrent)
}

func TestPredictAppliesPooledLinearHead(t *testing.T) {
	e := New(writeArtifact(t, meanArtifact()))
	_, err := e.Load(context.Background())
	require.NoError(t, err)

	out, err := e.Predict(tensor.Buffer{Shape: []int64{1, 1, 2, 2}, DType: tensor.Float32, Data: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, out.Shape)
	assert.Equal(t, []float32{2.5, -2}, out.Data)
}

func TestPredictGridPooling(t *testing.T) {
	a := Artifact{
		Format:     Format,
		InputShape: []int64{1, 1, 2, 2},
		Grid:       2,
		Outputs:    1,
		Weights:    []float32{1, 10, 100, 1000},
		Bias:       []float32{0},
	}
	e := New(writeArtifact(t, a))
	_, err := e.Load(context.Background())
	require.NoError(t, err)

	out, err := e.Predict(tensor.Buffer{DType: tensor.Float32, Data: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float32{4321}, out.Data)
}

func TestLoadHalfPrecisionWeights(t *testing.T) {
	a := meanArtifact()
	a.Weights = nil
	a.WeightsDType = "float16"
	a.WeightsFP16 = []uint16{float16.Fromfloat32(1).Bits(), float16.Fromfloat32(-1).Bits()}
	e := New(writeArtifact(t, a))
	_, err := e.Load(context.Background())
	require.NoError(t, err)

	out, err := e.Predict(tensor.Buffer{DType: tensor.Float32, Data: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, -2}, out.Data)
}

func TestLoadFailures(t *testing.T) {
	_, err := New("").Load(context.Background())
	require.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background())
	require.Error(t, err)

	bad := meanArtifact()
	bad.Bias = []float32{1}
	_, err = New(writeArtifact(t, bad)).Load(context.Background())
	require.Error(t, err)

	wrongFormat := meanArtifact()
	wrongFormat.Format = "pickle"
	_, err = New(writeArtifact(t, wrongFormat)).Load(context.Background())
	require.Error(t, err)
}

func TestPredictRejectsWrongInput(t *testing.T) {
	e := New(writeArtifact(t, meanArtifact()))
	_, err := e.Load(context.Background())
	require.NoError(t, err)

	_, err = e.Predict(tensor.Buffer{DType: tensor.Uint8, Data: []uint8{1, 2, 3, 4}})
	require.Error(t, err)
	_, err = e.Predict(tensor.Buffer{DType: tensor.Float32, Data: []float32{1}})
	require.Error(t, err)
}
