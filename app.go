package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/auth"
	"github.com/example/skinsight/internal/backend"
	"github.com/example/skinsight/internal/backend/native"
	"github.com/example/skinsight/internal/backend/onnx"
	"github.com/example/skinsight/internal/backend/tflite"
	"github.com/example/skinsight/internal/cache"
	"github.com/example/skinsight/internal/classifier"
	"github.com/example/skinsight/internal/config"
	"github.com/example/skinsight/internal/decoder"
	"github.com/example/skinsight/internal/handlers"
	"github.com/example/skinsight/internal/labels"
	"github.com/example/skinsight/internal/metrics"
	"github.com/example/skinsight/internal/mock"
	"github.com/example/skinsight/internal/preprocess"
)

type app struct {
	router   *gin.Engine
	service  *classifier.Service
	registry *backend.Registry
	metrics  *metrics.Recorder
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	mappings, err := labels.Load(cfg.Labels.File)
	if err != nil {
		return nil, err
	}
	dec := decoder.New(mappings, decoder.Options{
		Threshold:           cfg.Inference.DetectionThreshold,
		ConditionActivation: decoder.Activation(cfg.Inference.ConditionActivation),
		IncludeRaw:          cfg.Inference.IncludeRaw,
	})

	registry, err := backend.NewRegistry(logger, registrations(cfg)...)
	if err != nil {
		return nil, err
	}

	recorder, err := metrics.New(cfg.Metrics.StatsdAddr, []string{"service:skinsight"}, logger)
	if err != nil {
		return nil, fmt.Errorf("statsd client: %w", err)
	}

	a := &app{registry: registry, metrics: recorder}
	resultCache, err := a.initCache(ctx, cfg, logger)
	if err != nil {
		_ = recorder.Close()
		return nil, err
	}

	a.service = classifier.New(registry, dec, mock.New(dec, cfg.Mock.Seed), classifier.Options{
		Preprocess:    preprocess.Options{TargetSize: cfg.Inference.TargetSize, MaxPixels: cfg.Inference.MaxPixels},
		Cache:         resultCache,
		CacheTTL:      cfg.Cache.TTL,
		Metrics:       recorder,
		MaxConcurrent: cfg.Inference.MaxConcurrent,
		Logger:        logger,
	})

	a.router = gin.Default()
	a.router.MaxMultipartMemory = cfg.Server.MaxUploadBytes
	handlers.RegisterRoutes(a.router, a.service, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Auth:           auth.Middleware(auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)),
		Logger:         logger,
	})
	return a, nil
}

// registrations builds engines in the configured priority order.
func registrations(cfg *config.Config) []backend.Registration {
	regs := make([]backend.Registration, 0, len(cfg.Backends.Order))
	for _, name := range cfg.Backends.Order {
		kind := backend.Kind(name)
		var engine backend.Engine
		switch kind {
		case backend.KindNative:
			engine = native.New(cfg.Backends.Native.Path)
		case backend.KindONNX:
			engine = onnx.New(onnx.Config{
				ModelPath:    cfg.Backends.ONNX.Path,
				MetadataPath: cfg.Backends.ONNX.Metadata,
				LibraryPath:  cfg.Backends.ONNX.Library,
			})
		case backend.KindTFLite:
			engine = tflite.New(tflite.Config{
				ModelPath: cfg.Backends.TFLite.Path,
				Threads:   cfg.Backends.TFLite.Threads,
			})
		}
		regs = append(regs, backend.Registration{Kind: kind, Engine: engine})
	}
	return regs
}

func (a *app) initCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		a.redis = client
		return cache.NewRedisCache(client, logger), nil
	case "local":
		return cache.NewLocalCache(cfg.Cache.LocalSizeBytes), nil
	default:
		return cache.Nop{}, nil
	}
}

func (a *app) Close() error {
	errs := []error{a.registry.Close(), a.metrics.Close()}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
