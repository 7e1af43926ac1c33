package status

import (
	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/mock"
)

// BackendStatus is the externally visible state of one backend.
type BackendStatus struct {
	Priority    int            `json:"priority"`
	Status      backend.Status `json:"status"`
	InputShape  []int64        `json:"input_shape"`
	OutputShape []int64        `json:"output_shape"`
	OutputDType string         `json:"output_dtype,omitempty"`
	Quantized   bool           `json:"quantized"`
	LoadError   string         `json:"load_error,omitempty"`
}

// Report is a snapshot of every backend plus the one that would answer now.
type Report struct {
	Active    string                   `json:"active"`
	Attempted bool                     `json:"attempted"`
	Backends  map[string]BackendStatus `json:"backends"`
}

// Registry is the read-only view of the backend registry the reporter needs.
type Registry interface {
	Backends() []*backend.Backend
	SelectActive() *backend.Backend
	Loaded() bool
}

// Reporter reads registry state. It never triggers loading.
type Reporter struct {
	registry Registry
}

// NewReporter returns a reporter over r.
func NewReporter(r Registry) *Reporter {
	return &Reporter{registry: r}
}

// Report snapshots the registry. Active is "mock" once loading has finished
// with no loaded backend, and empty before loading was attempted.
func (r *Reporter) Report() Report {
	rep := Report{
		Attempted: r.registry.Loaded(),
		Backends:  make(map[string]BackendStatus),
	}
	for _, b := range r.registry.Backends() {
		st := BackendStatus{
			Priority:    b.Priority,
			Status:      b.Status(),
			InputShape:  []int64{},
			OutputShape: []int64{},
		}
		if st.Status == backend.StatusLoaded {
			sig := b.Signature()
			st.InputShape = sig.InputShape
			st.OutputShape = sig.OutputShape
			st.OutputDType = string(sig.OutputType)
			st.Quantized = sig.InputType.Quantized() || sig.OutputType.Quantized()
		}
		if err := b.LoadErr(); err != nil {
			st.LoadError = err.Error()
		}
		rep.Backends[string(b.Kind)] = st
	}

	if active := r.registry.SelectActive(); active != nil {
		rep.Active = string(active.Kind)
	} else if rep.Attempted {
		rep.Active = mock.ModelType
	}
	return rep
}
