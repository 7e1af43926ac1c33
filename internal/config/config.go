// Package config loads service settings from defaults, an optional YAML
// file and SKINSIGHT_ prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/example/skinsight/internal/backend"
)

// FileEnv names the environment variable holding the optional config file.
const FileEnv = "SKINSIGHT_CONFIG"

type Server struct {
	Addr           string `mapstructure:"addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type Log struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Inference struct {
	TargetSize          int     `mapstructure:"target_size"`
	MaxPixels           int     `mapstructure:"max_pixels"`
	DetectionThreshold  float64 `mapstructure:"detection_threshold"`
	ConditionActivation string  `mapstructure:"condition_activation"`
	MaxConcurrent       int64   `mapstructure:"max_concurrent"`
	IncludeRaw          bool    `mapstructure:"include_raw"`
}

type Labels struct {
	File string `mapstructure:"file"`
}

type Native struct {
	Path string `mapstructure:"path"`
}

type ONNX struct {
	Path     string `mapstructure:"path"`
	Metadata string `mapstructure:"metadata"`
	Library  string `mapstructure:"library"`
}

type TFLite struct {
	Path    string `mapstructure:"path"`
	Threads int    `mapstructure:"threads"`
}

type Backends struct {
	Order  []string `mapstructure:"order"`
	Native Native   `mapstructure:"native"`
	ONNX   ONNX     `mapstructure:"onnx"`
	TFLite TFLite   `mapstructure:"tflite"`
}

type Cache struct {
	Driver         string        `mapstructure:"driver"`
	TTL            time.Duration `mapstructure:"ttl"`
	LocalSizeBytes int           `mapstructure:"local_size_bytes"`
	RedisAddr      string        `mapstructure:"redis_addr"`
}

type Metrics struct {
	StatsdAddr string `mapstructure:"statsd_addr"`
}

type Auth struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type Mock struct {
	Seed uint64 `mapstructure:"seed"`
}

// Config is the fully resolved service configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Inference Inference `mapstructure:"inference"`
	Labels    Labels    `mapstructure:"labels"`
	Backends  Backends  `mapstructure:"backends"`
	Cache     Cache     `mapstructure:"cache"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Auth      Auth      `mapstructure:"auth"`
	Mock      Mock      `mapstructure:"mock"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("inference.target_size", 224)
	v.SetDefault("inference.max_pixels", 40_000_000)
	v.SetDefault("inference.detection_threshold", 0.5)
	v.SetDefault("inference.condition_activation", "sigmoid")
	v.SetDefault("inference.max_concurrent", 4)
	v.SetDefault("inference.include_raw", false)
	v.SetDefault("labels.file", "")
	v.SetDefault("backends.order", []string{string(backend.KindNative), string(backend.KindONNX), string(backend.KindTFLite)})
	v.SetDefault("backends.native.path", "models/skinsight.native.json")
	v.SetDefault("backends.onnx.path", "models/skinsight.onnx")
	v.SetDefault("backends.onnx.metadata", "models/skinsight.onnx.json")
	v.SetDefault("backends.onnx.library", "")
	v.SetDefault("backends.tflite.path", "models/skinsight.tflite")
	v.SetDefault("backends.tflite.threads", 1)
	v.SetDefault("cache.driver", "local")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.local_size_bytes", 32<<20)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("metrics.statsd_addr", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("mock.seed", 42)
}

// Load resolves configuration. path overrides SKINSIGHT_CONFIG when set.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SKINSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for _, kind := range c.Backends.Order {
		switch backend.Kind(kind) {
		case backend.KindNative, backend.KindONNX, backend.KindTFLite:
		default:
			errs = append(errs, fmt.Errorf("backends.order: unknown backend %q", kind))
		}
		if seen[kind] {
			errs = append(errs, fmt.Errorf("backends.order: duplicate backend %q", kind))
		}
		seen[kind] = true
	}
	if t := c.Inference.DetectionThreshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("inference.detection_threshold must be in (0,1), got %v", t))
	}
	if c.Inference.TargetSize < 1 {
		errs = append(errs, fmt.Errorf("inference.target_size must be positive, got %d", c.Inference.TargetSize))
	}
	if c.Inference.MaxPixels < 1 {
		errs = append(errs, fmt.Errorf("inference.max_pixels must be positive, got %d", c.Inference.MaxPixels))
	}
	if c.Inference.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("inference.max_concurrent must be positive, got %d", c.Inference.MaxConcurrent))
	}
	switch c.Inference.ConditionActivation {
	case "sigmoid", "softmax":
	default:
		errs = append(errs, fmt.Errorf("inference.condition_activation: unknown activation %q", c.Inference.ConditionActivation))
	}
	switch c.Cache.Driver {
	case "none", "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}
	return errors.Join(errs...)
}
