package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registration pairs an engine with the kind it answers as.
type Registration struct {
	Kind   Kind
	Engine Engine
}

// Registry owns every backend of the process. Backends are attempted once, in
// registration order, which is also their priority (0 is preferred).
type Registry struct {
	backends []*Backend
	logger   *zap.Logger
	once     sync.Once
	loaded   chan struct{}
}

// NewRegistry builds a registry. Nothing is loaded until LoadAll is called.
func NewRegistry(logger *zap.Logger, regs ...Registration) (*Registry, error) {
	r := &Registry{
		logger: logger.Named("registry"),
		loaded: make(chan struct{}),
	}
	seen := make(map[Kind]struct{}, len(regs))
	for i, reg := range regs {
		if reg.Engine == nil {
			return nil, fmt.Errorf("backend %s has no engine", reg.Kind)
		}
		if _, dup := seen[reg.Kind]; dup {
			return nil, fmt.Errorf("backend %s registered twice", reg.Kind)
		}
		seen[reg.Kind] = struct{}{}
		r.backends = append(r.backends, newBackend(reg.Kind, i, reg.Engine))
	}
	return r, nil
}

// LoadAll attempts every backend exactly once per registry lifetime. Concurrent
// callers wait for the first attempt to finish. A failing backend never stops
// the next one from being tried. Loading is detached from ctx cancellation so an
// abandoned first request cannot mark backends as failed.
func (r *Registry) LoadAll(ctx context.Context) []*Backend {
	r.once.Do(func() {
		defer close(r.loaded)
		loadCtx := context.WithoutCancel(ctx)
		for _, b := range r.backends {
			start := time.Now()
			if err := b.load(loadCtx); err != nil {
				r.logger.Warn("backend unavailable",
					zap.String("backend", string(b.Kind)),
					zap.Int("priority", b.Priority),
					zap.Error(err))
				continue
			}
			sig := b.Signature()
			r.logger.Info("backend loaded",
				zap.String("backend", string(b.Kind)),
				zap.Int("priority", b.Priority),
				zap.Int64s("input_shape", sig.InputShape),
				zap.Int64s("output_shape", sig.OutputShape),
				zap.String("output_dtype", string(sig.OutputType)),
				zap.Duration("elapsed", time.Since(start)))
		}
		if r.SelectActive() == nil {
			r.logger.Warn("no backend could be loaded, serving mock results")
		}
	})
	return r.backends
}

// Loaded reports whether LoadAll has completed.
func (r *Registry) Loaded() bool {
	select {
	case <-r.loaded:
		return true
	default:
		return false
	}
}

// SelectActive returns the highest-priority loaded backend, or nil when none
// is available.
func (r *Registry) SelectActive() *Backend {
	for _, b := range r.backends {
		if b.Status() == StatusLoaded {
			return b
		}
	}
	return nil
}

// Backends returns every registered backend in priority order.
func (r *Registry) Backends() []*Backend {
	out := make([]*Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// Close releases the handles of loaded backends.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range r.backends {
		if b.Status() != StatusLoaded {
			continue
		}
		if err := b.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Kind, err))
		}
	}
	return errors.Join(errs...)
}
