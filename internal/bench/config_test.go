package bench

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyDefaults()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 100, cfg.Frames)
	assert.Empty(t, cfg.Health.Addr)
	assert.Equal(t, "-", cfg.Sinks.Report.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
run_name: nightly
threads: 8
frames: 240
frame_interval: 16ms
events:
  - name: physics
    instances: 2
    work: 1000
  - name: render
    jitter: 3
counters:
  enabled: true
  names:
    - CPUCycles
    - TaskClock
health:
  addr: ":9091"
sinks:
  report:
    path: /tmp/times.tsv
    separator: ","
    compression: zstd
  clickhouse:
    enabled: true
    endpoint: "localhost:9000"
    database: bench
  http:
    enabled: false
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nightly", cfg.RunName)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 240, cfg.Frames)
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval)

	require.Len(t, cfg.Events, 2)
	assert.Equal(t, EventConfig{Name: "physics", Instances: 2, Work: 1000}, cfg.Events[0])
	assert.Equal(t, EventConfig{Name: "render", Instances: 1, Jitter: 3}, cfg.Events[1])

	assert.True(t, cfg.Counters.Enabled)
	assert.Equal(t, []string{"CPUCycles", "TaskClock"}, cfg.Counters.Names)
	assert.Equal(t, ":9091", cfg.Health.Addr)

	assert.Equal(t, "/tmp/times.tsv", cfg.Sinks.Report.Path)
	assert.Equal(t, ",", cfg.Sinks.Report.Separator)
	assert.Equal(t, "zstd", cfg.Sinks.Report.Compression)
	assert.True(t, cfg.Sinks.ClickHouse.Enabled)
	assert.Equal(t, "localhost:9000", cfg.Sinks.ClickHouse.Endpoint)
	assert.Equal(t, "bench", cfg.Sinks.ClickHouse.Database)
	assert.Equal(t, "samples", cfg.Sinks.ClickHouse.Table)
	assert.False(t, cfg.Sinks.HTTP.Enabled)
}

func TestLoadConfig_DefaultCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("counters:\n  enabled: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"CPUCycles", "CPUInstructions", "L1DataCacheLoadMisses"},
		cfg.Counters.Names,
	)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadConfig_ValidationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 0\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threads must be positive")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no frames",
			mutate:  func(c *Config) { c.Frames = 0 },
			wantErr: "frames must be positive",
		},
		{
			name:    "negative interval",
			mutate:  func(c *Config) { c.FrameInterval = -time.Second },
			wantErr: "frame_interval cannot be negative",
		},
		{
			name:    "no events",
			mutate:  func(c *Config) { c.Events = nil },
			wantErr: "at least one event is required",
		},
		{
			name:    "unnamed event",
			mutate:  func(c *Config) { c.Events[0].Name = "" },
			wantErr: "events[0].name is required",
		},
		{
			name:    "duplicate event",
			mutate:  func(c *Config) { c.Events[1].Name = c.Events[0].Name },
			wantErr: `duplicate event name "physics"`,
		},
		{
			name:    "negative work",
			mutate:  func(c *Config) { c.Events[1].Work = -1 },
			wantErr: "events[1]: jitter and work cannot be negative",
		},
		{
			name: "too many counters",
			mutate: func(c *Config) {
				c.Counters = CountersConfig{Enabled: true, Names: []string{
					"CPUCycles", "CPUInstructions", "CacheMisses", "BranchMisses", "PageFaults",
				}}
			},
			wantErr: "at most 4 counters are supported, got 5",
		},
		{
			name: "unknown counter",
			mutate: func(c *Config) {
				c.Counters = CountersConfig{Enabled: true, Names: []string{"Bogus"}}
			},
			wantErr: "unsupported perf counter: Bogus",
		},
		{
			name: "unknown counter ignored when disabled",
			mutate: func(c *Config) {
				c.Counters = CountersConfig{Names: []string{"Bogus"}}
			},
		},
		{
			name: "http run larger than one batch",
			mutate: func(c *Config) {
				c.Sinks.HTTP.Enabled = true
				c.Sinks.HTTP.Address = "http://localhost:8080"
				c.Sinks.HTTP.BatchSize = 10
			},
		},
		{
			name: "http address without scheme",
			mutate: func(c *Config) {
				c.Sinks.HTTP.Enabled = true
				c.Sinks.HTTP.Address = "localhost:8080"
			},
			wantErr: "must use http or https",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_NamesAndMaxSamples(t *testing.T) {
	cfg := &Config{
		Threads: 3,
		Frames:  10,
		Events: []EventConfig{
			{Name: "physics", Instances: 2},
			{Name: "render", Instances: 1, Jitter: 4},
		},
	}

	assert.Equal(t, map[int]string{0: "physics", 1: "render"}, cfg.Names())
	assert.Equal(t, 3*10*(2+5), cfg.MaxSamples())
}
