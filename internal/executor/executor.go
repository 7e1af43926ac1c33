package executor

import (
	"errors"
	"fmt"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/tensor"
)

// ErrInferenceRuntime is matched by every RuntimeError.
var ErrInferenceRuntime = errors.New("inference runtime error")

// RuntimeError reports a forward pass that failed or returned a malformed
// tensor. It is never retried.
type RuntimeError struct {
	Backend backend.Kind
	Err     error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInferenceRuntime) match any RuntimeError.
func (e *RuntimeError) Is(target error) bool { return target == ErrInferenceRuntime }

// Run executes one forward pass and returns float32 logits in the order the
// backend declares. Quantized inputs are encoded with the backend's input
// parameters and quantized outputs are dequantized with its output parameters.
func Run(b *backend.Backend, t *tensor.Tensor) (logits []float32, err error) {
	sig := b.Signature()
	fail := func(err error) ([]float32, error) {
		return nil, &RuntimeError{Backend: b.Kind, Err: err}
	}

	if !tensor.Matches(sig.InputShape, t.Shape) {
		return fail(fmt.Errorf("input shape %v does not match declared %v", t.Shape, sig.InputShape))
	}
	in, err := tensor.Encode(t, sig.InputType, sig.InputQuant)
	if err != nil {
		return fail(err)
	}

	out, err := invoke(b, in)
	if err != nil {
		return fail(err)
	}

	if !tensor.Matches(sig.OutputShape, out.Shape) {
		return fail(fmt.Errorf("output shape %v does not match declared %v", out.Shape, sig.OutputShape))
	}
	if want := tensor.Elements(out.Shape); int64(out.Len()) != want {
		return fail(fmt.Errorf("output holds %d values for shape %v", out.Len(), out.Shape))
	}
	if out.DType != sig.OutputType {
		return fail(fmt.Errorf("output dtype %s does not match declared %s", out.DType, sig.OutputType))
	}

	logits, err = tensor.Decode(out, sig.OutputQuant)
	if err != nil {
		return fail(err)
	}
	return logits, nil
}

// invoke converts engine panics (usually from cgo bindings) into errors.
func invoke(b *backend.Backend, in tensor.Buffer) (out tensor.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return b.Invoke(in)
}
