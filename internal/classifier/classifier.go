// Package classifier is the entry point of the inference broker. It routes
// each request through preprocessing, the active backend and the decoder, or
// to the mock provider when nothing could be loaded.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/cache"
	"github.com/example/skinsight/internal/decoder"
	"github.com/example/skinsight/internal/executor"
	"github.com/example/skinsight/internal/labels"
	"github.com/example/skinsight/internal/logging"
	"github.com/example/skinsight/internal/metrics"
	"github.com/example/skinsight/internal/mock"
	"github.com/example/skinsight/internal/preprocess"
	"github.com/example/skinsight/internal/status"
	"github.com/example/skinsight/internal/tensor"
)

const (
	opAnalyze  = "classifier.analyze"
	opClassify = "classifier.classify"
)

// Options configures a Service. Zero values select no-op collaborators.
type Options struct {
	Preprocess    preprocess.Options
	Cache         cache.Cache
	CacheTTL      time.Duration
	Metrics       *metrics.Recorder
	MaxConcurrent int64
	Logger        *zap.Logger
}

// Service answers classification requests. It is safe for concurrent use.
type Service struct {
	registry   *backend.Registry
	decoder    *decoder.Decoder
	mock       *mock.Provider
	reporter   *status.Reporter
	preprocess preprocess.Options
	cache      cache.Cache
	cacheTTL   time.Duration
	metrics    *metrics.Recorder
	sem        *semaphore.Weighted
	logger     *zap.Logger
	gaugeOnce  sync.Once
}

// New constructs a service over an unloaded or loaded registry.
func New(reg *backend.Registry, dec *decoder.Decoder, mp *mock.Provider, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		registry:   reg,
		decoder:    dec,
		mock:       mp,
		reporter:   status.NewReporter(reg),
		preprocess: opts.Preprocess,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		metrics:    opts.Metrics,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		logger:     opts.Logger.Named("classifier"),
	}
}

// Warmup loads every backend now instead of on the first request.
func (s *Service) Warmup(ctx context.Context) {
	s.ensureLoaded(ctx)
}

// Status reports backend state without triggering loading.
func (s *Service) Status() status.Report {
	return s.reporter.Report()
}

// Mappings returns the label lists results are decoded against.
func (s *Service) Mappings() labels.Mappings {
	return s.decoder.Mappings()
}

// Analyze returns the multi-task result for one image. When no backend is
// loaded the mock result is returned with ModelType "mock" and no error.
func (s *Service) Analyze(ctx context.Context, in preprocess.Input) (*decoder.Result, error) {
	requestID := requestIDFrom(ctx)
	opLogger := logging.WithOperation(s.logger, opAnalyze, requestID)

	var res decoder.Result
	modelType, err := s.serve(ctx, in, opAnalyze, requestID, &res, func() {
		res = *s.mock.Result()
	}, func(kind string, logits []float32) error {
		decoded, err := s.decoder.Decode(logits, kind)
		if err != nil {
			return err
		}
		res = *decoded
		return nil
	})
	if err != nil {
		opLogger.Error("analysis failed", zap.Error(err))
		return nil, err
	}
	opLogger.Debug("analysis complete", zap.String("model_type", modelType))
	return &res, nil
}

// Classify returns the single-task answer for task.
func (s *Service) Classify(ctx context.Context, in preprocess.Input, task labels.Task) (*decoder.Prediction, error) {
	requestID := requestIDFrom(ctx)
	if _, err := labels.ParseTask(string(task)); err != nil {
		return nil, logging.NewOperationError(opClassify, requestID, "", err)
	}
	operation := opClassify + "." + string(task)
	opLogger := logging.WithOperation(s.logger, operation, requestID)

	var pred decoder.Prediction
	modelType, err := s.serve(ctx, in, operation, requestID, &pred, func() {
		pred = *s.mock.Prediction(task)
	}, func(kind string, logits []float32) error {
		decoded, err := s.decoder.DecodeTask(logits, task, kind)
		if err != nil {
			return err
		}
		pred = *decoded
		return nil
	})
	if err != nil {
		opLogger.Error("classification failed", zap.Error(err))
		return nil, err
	}
	opLogger.Debug("classification complete", zap.String("model_type", modelType))
	return &pred, nil
}

// serve runs the shared request flow. out receives the cached value on a hit;
// otherwise fallback or decode fills it.
func (s *Service) serve(
	ctx context.Context,
	in preprocess.Input,
	operation, requestID string,
	out any,
	fallback func(),
	decode func(kind string, logits []float32) error,
) (string, error) {
	s.ensureLoaded(ctx)

	data, err := in.Load()
	if err != nil {
		s.metrics.Error("", operation, errorKind(err))
		return "", logging.NewOperationError(operation, requestID, "", err)
	}

	active := s.registry.SelectActive()
	if active == nil {
		if _, err := preprocess.Preprocess(preprocess.FromBytes(data), s.preprocess); err != nil {
			s.metrics.Error(mock.ModelType, operation, errorKind(err))
			return "", logging.NewOperationError(operation, requestID, mock.ModelType, err)
		}
		s.metrics.Mock(operation)
		fallback()
		return mock.ModelType, nil
	}

	kind := string(active.Kind)
	fail := func(err error) (string, error) {
		s.metrics.Error(kind, operation, errorKind(err))
		return "", logging.NewOperationError(operation, requestID, kind, err)
	}

	key := cache.Key(data, kind, operation)
	if s.lookup(ctx, key, requestID, out) {
		s.metrics.CacheHit(kind, operation)
		return kind, nil
	}

	t, err := preprocess.Preprocess(preprocess.FromBytes(data), s.preprocess)
	if err != nil {
		return fail(err)
	}
	logits, err := s.run(ctx, active, t, operation)
	if err != nil {
		return fail(err)
	}
	if err := decode(kind, logits); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	s.store(ctx, key, requestID, out)
	s.metrics.Request(kind, operation)
	return kind, nil
}

// run bounds concurrent forward passes. An abandoned request returns at once
// while its pass finishes in the background and still holds its slot.
func (s *Service) run(ctx context.Context, b *backend.Backend, t *tensor.Tensor, operation string) ([]float32, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type outcome struct {
		logits []float32
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer s.sem.Release(1)
		logits, err := executor.Run(b, t)
		done <- outcome{logits: logits, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		s.metrics.Inference(string(b.Kind), operation, time.Since(start))
		return o.logits, o.err
	}
}

func (s *Service) ensureLoaded(ctx context.Context) {
	s.registry.LoadAll(ctx)
	s.gaugeOnce.Do(func() {
		for _, b := range s.registry.Backends() {
			s.metrics.BackendLoaded(string(b.Kind), b.Status() == backend.StatusLoaded)
		}
	})
}

func (s *Service) lookup(ctx context.Context, key, requestID string, out any) bool {
	payload, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logging.WithOperation(s.logger, "cache.get", requestID).Warn("failed to read cache", zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(payload, out); err != nil {
		logging.WithOperation(s.logger, "cache.get", requestID).Warn("failed to decode cached result", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) store(ctx context.Context, key, requestID string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		logging.WithOperation(s.logger, "cache.set", requestID).Warn("failed to serialize result", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		logging.WithOperation(s.logger, "cache.set", requestID).Warn("failed to cache result", zap.Error(err))
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, preprocess.ErrUnsupportedInput):
		return "unsupported_input"
	case errors.Is(err, executor.ErrInferenceRuntime):
		return "runtime"
	case errors.Is(err, decoder.ErrDecode):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}
