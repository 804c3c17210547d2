package bench

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/frametimer/eventtimer"
	"github.com/ethpandaops/frametimer/internal/export"
	"github.com/ethpandaops/frametimer/internal/perf"
	"github.com/ethpandaops/frametimer/internal/sink"
)

// Config is the top-level configuration for a profiling run.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// RunName tags exported samples. Sinks fall back to their own
	// meta_run_name when empty.
	RunName string `yaml:"run_name"`

	// Threads is the number of worker threads.
	Threads int `yaml:"threads"`

	// Frames is the number of frames to run.
	Frames int `yaml:"frames"`

	// FrameInterval paces frames at a fixed rate. Zero runs frames
	// back to back.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// Events lists the event kinds each worker records every frame. The
	// event kind is the list index.
	Events []EventConfig `yaml:"events"`

	// Counters configures hardware counter collection.
	Counters CountersConfig `yaml:"counters"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// Sinks configures where samples go after the run.
	Sinks sink.Config `yaml:"sinks"`
}

// EventConfig describes one simulated event kind.
type EventConfig struct {
	// Name labels the event kind in reports.
	Name string `yaml:"name"`

	// Instances is how many times each worker records the event per
	// frame. Defaults to 1.
	Instances int `yaml:"instances"`

	// Jitter adds up to this many extra instances per worker and frame,
	// drawn from a per-thread seeded source.
	Jitter int `yaml:"jitter"`

	// Work is the number of spin iterations per instance.
	Work int `yaml:"work"`
}

// CountersConfig configures hardware counters.
type CountersConfig struct {
	// Enabled opens perf counters on every worker thread.
	Enabled bool `yaml:"enabled"`

	// Names lists the counters to read. Defaults to cycles, instructions
	// and L1 data cache load misses.
	Names []string `yaml:"names"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Threads:  4,
		Frames:   100,
		Events: []EventConfig{
			{Name: "physics", Instances: 1, Work: 20000},
			{Name: "render", Instances: 1, Work: 50000},
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	for i := range c.Events {
		if c.Events[i].Instances <= 0 {
			c.Events[i].Instances = 1
		}
	}

	if c.Counters.Enabled && len(c.Counters.Names) == 0 {
		c.Counters.Names = append([]string(nil), eventtimer.DefaultCounters...)
	}

	c.Sinks.ApplyDefaults()
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Threads <= 0 {
		return errors.New("threads must be positive")
	}

	if c.Frames <= 0 {
		return errors.New("frames must be positive")
	}

	if c.FrameInterval < 0 {
		return errors.New("frame_interval cannot be negative")
	}

	if len(c.Events) == 0 {
		return errors.New("at least one event is required")
	}

	seen := make(map[string]struct{}, len(c.Events))

	for i, ev := range c.Events {
		if ev.Name == "" {
			return fmt.Errorf("events[%d].name is required", i)
		}

		if _, ok := seen[ev.Name]; ok {
			return fmt.Errorf("duplicate event name %q", ev.Name)
		}

		seen[ev.Name] = struct{}{}

		if ev.Instances <= 0 {
			return fmt.Errorf("events[%d].instances must be positive", i)
		}

		if ev.Jitter < 0 || ev.Work < 0 {
			return fmt.Errorf("events[%d]: jitter and work cannot be negative", i)
		}
	}

	if c.Counters.Enabled {
		if len(c.Counters.Names) > eventtimer.MaxCounters {
			return fmt.Errorf("at most %d counters are supported, got %d",
				eventtimer.MaxCounters, len(c.Counters.Names))
		}

		if err := perf.Validate(c.Counters.Names); err != nil {
			return fmt.Errorf("counters: %w", err)
		}
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	return nil
}

// Names maps event kinds to their configured names.
func (c *Config) Names() map[int]string {
	names := make(map[int]string, len(c.Events))
	for i, ev := range c.Events {
		names[i] = ev.Name
	}

	return names
}

// MaxSamples is the most samples a run can record.
func (c *Config) MaxSamples() int {
	perFrame := 0
	for _, ev := range c.Events {
		perFrame += ev.Instances + ev.Jitter
	}

	return c.Threads * c.Frames * perFrame
}
