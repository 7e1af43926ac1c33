package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 224, cfg.Inference.TargetSize)
	assert.Equal(t, 40_000_000, cfg.Inference.MaxPixels)
	assert.Equal(t, 0.5, cfg.Inference.DetectionThreshold)
	assert.Equal(t, "sigmoid", cfg.Inference.ConditionActivation)
	assert.Equal(t, []string{"native", "onnx", "tflite"}, cfg.Backends.Order)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, uint64(42), cfg.Mock.Seed)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skinsight.yaml")
	body := "inference:\n  detection_threshold: 0.7\n  condition_activation: softmax\nbackends:\n  order: [onnx, tflite]\n  onnx:\n    path: /models/a.onnx\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("SKINSIGHT_BACKENDS_ONNX_PATH", "/override.onnx")
	t.Setenv("SKINSIGHT_CACHE_DRIVER", "none")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Inference.DetectionThreshold)
	assert.Equal(t, "softmax", cfg.Inference.ConditionActivation)
	assert.Equal(t, []string{"onnx", "tflite"}, cfg.Backends.Order)
	assert.Equal(t, "/override.onnx", cfg.Backends.ONNX.Path)
	assert.Equal(t, "none", cfg.Cache.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv(FileEnv, "")
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.Backends.Order = []string{"native", "coreml"} },
		"duplicate backend": func(c *Config) { c.Backends.Order = []string{"onnx", "onnx"} },
		"threshold one":     func(c *Config) { c.Inference.DetectionThreshold = 1 },
		"threshold zero":    func(c *Config) { c.Inference.DetectionThreshold = 0 },
		"target size":       func(c *Config) { c.Inference.TargetSize = 0 },
		"concurrency":       func(c *Config) { c.Inference.MaxConcurrent = 0 },
		"max pixels":        func(c *Config) { c.Inference.MaxPixels = 0 },
		"activation":        func(c *Config) { c.Inference.ConditionActivation = "relu" },
		"cache driver":      func(c *Config) { c.Cache.Driver = "memcached" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			cfg.Backends.Order = append([]string(nil), base.Backends.Order...)
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}
