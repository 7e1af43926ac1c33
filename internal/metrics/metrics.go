// Package metrics emits inference telemetry over statsd.
package metrics

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"go.uber.org/zap"
)

const (
	inferenceTiming = "skinsight.inference.latency"
	requestCount    = "skinsight.request.count"
	mockCount       = "skinsight.mock.count"
	errorCount      = "skinsight.error.count"
	cacheHitCount   = "skinsight.cache.hit"
	backendGauge    = "skinsight.backend.loaded"
)

// Recorder is safe for concurrent use.
type Recorder struct {
	client       statsd.ClientInterface
	logger       *zap.Logger
	samplingRate float64
}

// New dials addr. An empty addr yields a recorder that drops everything.
func New(addr string, tags []string, logger *zap.Logger) (*Recorder, error) {
	if addr == "" {
		return NewWithClient(&statsd.NoOpClient{}, logger), nil
	}
	client, err := statsd.New(addr, statsd.WithTags(tags))
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing statsd client.
func NewWithClient(client statsd.ClientInterface, logger *zap.Logger) *Recorder {
	return &Recorder{client: client, logger: logger.Named("metrics"), samplingRate: 1}
}

// Inference records one forward pass.
func (r *Recorder) Inference(backend, operation string, d time.Duration) {
	r.warn("timing", r.client.Timing(inferenceTiming, d, r.tags(backend, operation), r.samplingRate))
}

// Request counts one answered request, tagged with the answering backend.
func (r *Recorder) Request(backend, operation string) {
	r.warn("count", r.client.Incr(requestCount, r.tags(backend, operation), r.samplingRate))
}

// Mock counts a request answered by the mock provider.
func (r *Recorder) Mock(operation string) {
	r.warn("count", r.client.Incr(mockCount, []string{"operation:" + operation}, r.samplingRate))
}

// Error counts a failed request by error kind.
func (r *Recorder) Error(backend, operation, kind string) {
	tags := append(r.tags(backend, operation), "kind:"+kind)
	r.warn("count", r.client.Incr(errorCount, tags, r.samplingRate))
}

// CacheHit counts a request served from the result cache.
func (r *Recorder) CacheHit(backend, operation string) {
	r.warn("count", r.client.Incr(cacheHitCount, r.tags(backend, operation), r.samplingRate))
}

// BackendLoaded reports whether backend is usable.
func (r *Recorder) BackendLoaded(backend string, loaded bool) {
	value := 0.0
	if loaded {
		value = 1
	}
	r.warn("gauge", r.client.Gauge(backendGauge, value, []string{"backend:" + backend}, 1))
}

// Close flushes buffered metrics.
func (r *Recorder) Close() error {
	return r.client.Close()
}

func (r *Recorder) tags(backend, operation string) []string {
	return []string{"backend:" + backend, "operation:" + operation}
}

func (r *Recorder) warn(kind string, err error) {
	if err != nil {
		r.logger.Warn("statsd "+kind+" failed", zap.Error(err))
	}
}

// Discard returns a recorder that drops everything.
func Discard() *Recorder {
	return NewWithClient(&statsd.NoOpClient{}, zap.NewNop())
}
