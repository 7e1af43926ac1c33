//go:build !tflite

package tflite

import (
	"context"
	"errors"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

// ErrNotCompiled is returned by Load in binaries built without the tflite tag.
var ErrNotCompiled = errors.New("tflite support not compiled in (build with -tags tflite)")

// Engine is the placeholder used when the interpreter is not linked.
type Engine struct {
	cfg Config
}

// New returns an engine that reports ErrNotCompiled on Load.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Load(ctx context.Context) (backend.Signature, error) {
	return backend.Signature{}, ErrNotCompiled
}

func (e *Engine) Predict(in tensor.Buffer) (tensor.Buffer, error) {
	return tensor.Buffer{}, ErrNotCompiled
}

func (e *Engine) Close() error { return nil }
