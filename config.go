package fractal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/inferenceops/fractal/service/admission"
	"github.com/inferenceops/fractal/service/allocator"
	"github.com/inferenceops/fractal/service/dispatcher"
)

// GPUConfig declares one pool member. MemoryMB and ComputeUnits may be
// left zero to inherit the catalog profile for the GPU type.
type GPUConfig struct {
	GPUID        string `json:"gpuId" yaml:"gpuId" mapstructure:"gpuId"`
	GPUType      string `json:"gpuType" yaml:"gpuType" mapstructure:"gpuType"`
	MemoryMB     int    `json:"memoryMB" yaml:"memoryMB" mapstructure:"memoryMB"`
	ComputeUnits int    `json:"computeUnits" yaml:"computeUnits" mapstructure:"computeUnits"`
}

// Config represents the control plane configuration.
type Config struct {
	// LogLevel and LogFormat configure the root logger.
	LogLevel  string `json:"logLevel" yaml:"logLevel" mapstructure:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat" mapstructure:"logFormat"`

	// CatalogURL optionally points at a YAML profile document merged over
	// the built-in catalog at startup.
	CatalogURL string `json:"catalogURL" yaml:"catalogURL" mapstructure:"catalogURL"`

	// DefaultGPUType sizes requests when no explicit profile applies.
	DefaultGPUType string `json:"defaultGPUType" yaml:"defaultGPUType" mapstructure:"defaultGPUType"`

	// MetricsInterval is the gauge sampling period.
	MetricsInterval time.Duration `json:"metricsInterval" yaml:"metricsInterval" mapstructure:"metricsInterval"`

	GPUs       []GPUConfig       `json:"gpus" yaml:"gpus" mapstructure:"gpus"`
	Queue      admission.Config  `json:"queue" yaml:"queue" mapstructure:"queue"`
	Flow       admission.Policy  `json:"flow" yaml:"flow" mapstructure:"flow"`
	Allocator  allocator.Config  `json:"allocator" yaml:"allocator" mapstructure:"allocator"`
	Dispatcher dispatcher.Config `json:"dispatcher" yaml:"dispatcher" mapstructure:"dispatcher"`
}

// DefaultConfig returns the default control plane configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		DefaultGPUType:  "A100",
		MetricsInterval: 5 * time.Second,
		Queue:           admission.DefaultConfig(),
		Flow:            admission.DefaultPolicy(),
		Allocator:       allocator.DefaultConfig(),
		Dispatcher:      dispatcher.DefaultConfig(),
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DefaultGPUType == "" {
		return fmt.Errorf("default GPU type is required")
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval %v must be positive", c.MetricsInterval)
	}
	if c.Dispatcher.Workers <= 0 {
		return fmt.Errorf("dispatcher worker count must be positive")
	}
	seen := map[string]bool{}
	for i, gpu := range c.GPUs {
		if gpu.GPUID == "" {
			return fmt.Errorf("gpus[%d]: empty GPU id", i)
		}
		if seen[gpu.GPUID] {
			return fmt.Errorf("gpus[%d]: duplicate GPU id %s", i, gpu.GPUID)
		}
		seen[gpu.GPUID] = true
	}
	return nil
}

// LoadConfig reads the configuration file at path over the defaults.
// FRACTAL_ prefixed environment variables override file values.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FRACTAL")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return config, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("validating config %s: %w", path, err)
	}
	return config, nil
}
