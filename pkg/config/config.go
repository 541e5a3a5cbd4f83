// Package config defines the YAML configuration file consumed by the mill
// command-line tools and maps it onto the per-subsystem Config structs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/millvm/mill/pkg/logger"
	"github.com/millvm/mill/pkg/telemetry"
)

// Config is the root of the configuration file.
type Config struct {
	// Scheduler configures the engine pool.
	Scheduler SchedulerConfig `yaml:"scheduler"`
	// Logger configures the zap logger.
	Logger logger.Config `yaml:"logger"`
	// Telemetry configures metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// SchedulerConfig holds the engine-pool settings.
type SchedulerConfig struct {
	// Engines is the number of worker engines (OS threads' worth of
	// parallelism). Zero means one engine per CPU.
	Engines int `yaml:"engines"`
	// StealAdviceInterval is the period, in milliseconds, of the background
	// work-steal advisor. Zero disables the advisor.
	StealAdviceIntervalMs int `yaml:"steal_advice_interval_ms"`
	// QueueCapacity is the initial per-engine work queue capacity.
	QueueCapacity int `yaml:"queue_capacity"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			StealAdviceIntervalMs: 50,
			QueueCapacity:         256,
		},
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			ServiceName:    "mill",
			PrometheusPort: 9464,
		},
	}
}

// Load reads and parses the YAML configuration file at path. Unset fields
// keep their Default() values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}
