package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/example/skinsight/internal/tensor"
)

// Kind identifies an execution engine. It doubles as the model_type reported
// to callers.
type Kind string

const (
	KindNative Kind = "native"
	KindONNX   Kind = "onnx"
	KindTFLite Kind = "tflite"
)

// Status is the lifecycle state of a backend. Loaded and Failed are terminal.
type Status string

const (
	StatusNotAttempted Status = "not_attempted"
	StatusLoaded       Status = "loaded"
	StatusFailed       Status = "failed"
)

// Signature is what a loaded engine declares about its tensors.
type Signature struct {
	InputShape  []int64
	InputType   tensor.DType
	InputQuant  *tensor.Quantization
	OutputShape []int64
	OutputType  tensor.DType
	OutputQuant *tensor.Quantization
	// Concurrent is true when Predict may run on several goroutines at once.
	// Otherwise calls into the engine are serialized per backend.
	Concurrent bool
}

// Engine is one interchangeable way of executing the model artifact.
type Engine interface {
	// Load opens the artifact and reports its tensor signature.
	Load(ctx context.Context) (Signature, error)
	// Predict runs one forward pass. The input matches the declared input
	// dtype and shape.
	Predict(in tensor.Buffer) (tensor.Buffer, error)
	Close() error
}

// LoadError records why a backend could not be brought up.
type LoadError struct {
	Kind Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s backend: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type state struct {
	status Status
	sig    Signature
	err    error
}

// Backend is a registered engine together with its load outcome.
type Backend struct {
	Kind     Kind
	Priority int

	engine Engine
	state  atomic.Pointer[state]
	callMu sync.Mutex
}

func newBackend(kind Kind, priority int, engine Engine) *Backend {
	b := &Backend{Kind: kind, Priority: priority, engine: engine}
	b.state.Store(&state{status: StatusNotAttempted})
	return b
}

// Status returns the current lifecycle state.
func (b *Backend) Status() Status { return b.state.Load().status }

// Signature returns the declared tensors. It is zero until the backend loads.
func (b *Backend) Signature() Signature { return b.state.Load().sig }

// LoadErr returns the recorded failure, if any.
func (b *Backend) LoadErr() error { return b.state.Load().err }

// Invoke calls the engine, holding the backend's mutex when the engine is not
// safe for concurrent use.
func (b *Backend) Invoke(in tensor.Buffer) (tensor.Buffer, error) {
	st := b.state.Load()
	if st.status != StatusLoaded {
		return tensor.Buffer{}, fmt.Errorf("backend %s is %s", b.Kind, st.status)
	}
	if !st.sig.Concurrent {
		b.callMu.Lock()
		defer b.callMu.Unlock()
	}
	return b.engine.Predict(in)
}

func (b *Backend) load(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = &LoadError{Kind: b.Kind, Err: err}
			b.state.Store(&state{status: StatusFailed, err: err})
		}
	}()

	sig, err := b.engine.Load(ctx)
	if err != nil {
		return err
	}
	if err := normalizeSignature(&sig); err != nil {
		_ = b.engine.Close()
		return err
	}
	b.state.Store(&state{status: StatusLoaded, sig: sig})
	return nil
}

func normalizeSignature(sig *Signature) error {
	if len(sig.InputShape) == 0 || len(sig.OutputShape) == 0 {
		return errors.New("engine declared no input or output shape")
	}
	if sig.InputType == "" {
		sig.InputType = tensor.Float32
	}
	if sig.OutputType == "" {
		sig.OutputType = tensor.Float32
	}
	if sig.InputType.Quantized() && sig.InputQuant == nil {
		return fmt.Errorf("input dtype %s declared without quantization parameters", sig.InputType)
	}
	if sig.OutputType.Quantized() && sig.OutputQuant == nil {
		return fmt.Errorf("output dtype %s declared without quantization parameters", sig.OutputType)
	}
	return nil
}
