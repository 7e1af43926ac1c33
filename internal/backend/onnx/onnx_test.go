package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadMetadataDefaultsNames(t *testing.T) {
	path := writeFile(t, "meta.json", `{
		"input_shape": [1, 3, 224, 224],
		"output_shape": [1, 15],
		"input_dtype": "uint8",
		"input_quantization": {"scale": 0.0186, "zero_point": 114}
	}`)

	meta, err := readMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", meta.InputName)
	assert.Equal(t, "output", meta.OutputName)
	require.NotNil(t, meta.InputQuantization)
	assert.Equal(t, 114, meta.InputQuantization.ZeroPoint)
	assert.Nil(t, meta.OutputQuantization)
}

func TestReadMetadataRejectsDynamicDims(t *testing.T) {
	path := writeFile(t, "meta.json", `{"input_shape": [-1, 3, 224, 224], "output_shape": [1, 15]}`)

	_, err := readMetadata(path)
	require.Error(t, err)
}

func TestReadMetadataRequiresShapes(t *testing.T) {
	path := writeFile(t, "meta.json", `{"input_shape": [1, 3, 224, 224]}`)

	_, err := readMetadata(path)
	require.Error(t, err)
}

func TestLoadFailsWithoutModelFile(t *testing.T) {
	e := New(Config{ModelPath: filepath.Join(t.TempDir(), "model.onnx")})

	_, err := e.Load(context.Background())
	require.Error(t, err)
}

func TestLoadFailsWithoutConfiguration(t *testing.T) {
	_, err := New(Config{}).Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsUnsupportedDType(t *testing.T) {
	model := writeFile(t, "model.onnx", "not really a graph")
	meta := writeFile(t, "meta.json", `{"input_shape": [1, 3, 8, 8], "output_shape": [1, 15], "output_dtype": "bfloat16"}`)

	_, err := New(Config{ModelPath: model, MetadataPath: meta}).Load(context.Background())
	require.Error(t, err)
}
