// Package config holds the typed runtime configuration of skillrouter.
// Values come from viper, which merges flags, SKILLROUTER_* environment
// variables and the config file.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrouter/pkg/classifier"
	"github.com/jingkaihe/skillrouter/pkg/registry"
	"github.com/jingkaihe/skillrouter/pkg/router"
	"github.com/jingkaihe/skillrouter/pkg/telemetry"
)

// CorpusConfig selects the skill files.
type CorpusConfig struct {
	Paths   []string `mapstructure:"paths"`
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// RegistryConfig tunes the registry build.
type RegistryConfig struct {
	Workers     int    `mapstructure:"workers"`
	Duplicates  string `mapstructure:"duplicates"`
	ReadRetries uint   `mapstructure:"read_retries"`
}

// ClassifierConfig tunes skill ranking.
type ClassifierConfig struct {
	Threshold     float64 `mapstructure:"threshold"`
	MaxCandidates int     `mapstructure:"max_candidates"`
	Fallback      string  `mapstructure:"fallback"`
}

// RouterConfig bounds each routing call.
type RouterConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig selects the parse cache. An empty Path keeps it in memory.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// WatchConfig tunes hot reload.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// ServeConfig is the HTTP listener.
type ServeConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TracingConfig mirrors telemetry.Config.
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// Config is the complete configuration.
type Config struct {
	Corpus     CorpusConfig     `mapstructure:"corpus"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Router     RouterConfig     `mapstructure:"router"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Serve      ServeConfig      `mapstructure:"serve"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	def := classifier.DefaultOptions()

	v.SetDefault("corpus.paths", []string{"./skills"})
	v.SetDefault("corpus.include", registry.DefaultInclude)
	v.SetDefault("corpus.exclude", registry.DefaultExclude)
	v.SetDefault("registry.workers", runtime.NumCPU())
	v.SetDefault("registry.duplicates", string(registry.DuplicateFail))
	v.SetDefault("registry.read_retries", 3)
	v.SetDefault("classifier.threshold", def.Threshold)
	v.SetDefault("classifier.max_candidates", def.MaxCandidates)
	v.SetDefault("classifier.fallback", def.FallbackID)
	v.SetDefault("router.timeout", router.DefaultTimeout)
	v.SetDefault("cache.path", "")
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 8089)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	cfg.Corpus.Paths = splitList(cfg.Corpus.Paths)
	cfg.Corpus.Include = splitList(cfg.Corpus.Include)
	cfg.Corpus.Exclude = splitList(cfg.Corpus.Exclude)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	if len(c.Corpus.Paths) == 0 {
		return errors.New("corpus.paths must name at least one file or directory")
	}
	if c.Registry.Workers <= 0 {
		return errors.Errorf("registry.workers must be positive, got %d", c.Registry.Workers)
	}
	if _, err := registry.ParseDuplicatePolicy(c.Registry.Duplicates); err != nil {
		return errors.Wrap(err, "registry.duplicates")
	}
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 1 {
		return errors.Errorf("classifier.threshold must be within [0, 1], got %v", c.Classifier.Threshold)
	}
	if c.Classifier.MaxCandidates <= 0 {
		return errors.Errorf("classifier.max_candidates must be positive, got %d", c.Classifier.MaxCandidates)
	}
	if c.Router.Timeout < 0 {
		return errors.Errorf("router.timeout must not be negative, got %s", c.Router.Timeout)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return errors.Errorf("serve.port must be between 0 and 65535, got %d", c.Serve.Port)
	}
	if _, err := telemetry.NewSampler(c.Tracing.Sampler, c.Tracing.Ratio); err != nil {
		return errors.Wrap(err, "tracing.sampler")
	}
	return nil
}

// Telemetry returns the tracer settings for a build version.
func (c *Config) Telemetry(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Tracing.Enabled,
		ServiceVersion: version,
		SamplerType:    c.Tracing.Sampler,
		SamplerRatio:   c.Tracing.Ratio,
	}
}

// LoaderOptions returns the registry options for this configuration. Cache
// wiring is left to the caller since it owns the database handle.
func (c *Config) LoaderOptions() []registry.Option {
	policy, _ := registry.ParseDuplicatePolicy(c.Registry.Duplicates)
	return []registry.Option{
		registry.WithWorkers(c.Registry.Workers),
		registry.WithInclude(c.Corpus.Include...),
		registry.WithExclude(c.Corpus.Exclude...),
		registry.WithDuplicatePolicy(policy),
		registry.WithReadRetries(c.Registry.ReadRetries),
	}
}

// ClassifierOptions returns the ranking options for this configuration.
func (c *Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		Threshold:     c.Classifier.Threshold,
		MaxCandidates: c.Classifier.MaxCandidates,
		FallbackID:    c.Classifier.Fallback,
	}
}

// splitList accepts comma separated values, as environment variables
// deliver them as a single string.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
