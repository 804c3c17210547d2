package http

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config configures NDJSON delivery of a finished run to an HTTP collector.
// A run is posted once, so samples are shipped synchronously: every batch
// is acknowledged by the collector before the next one is queued.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Address is the collector endpoint, e.g. a Vector http_server source.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib, snappy. Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize is the number of samples per request. Defaults to 1024.
	BatchSize int `yaml:"batch_size"`

	// Workers is the number of requests in flight. Defaults to 1.
	Workers int `yaml:"workers"`

	// FlushInterval bounds how long a short final batch waits before it
	// is posted. Defaults to 100ms.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// RequestTimeout bounds one request. Defaults to 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// KeepAlive reuses connections between batches. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	// MetaRunName tags samples of unnamed runs and is sent as the
	// X-Frametimer-Run header.
	MetaRunName string `yaml:"meta_run_name"`
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:    CompressionGzip,
		BatchSize:      1024,
		Workers:        1,
		FlushInterval:  100 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		KeepAlive:      &keepAlive,
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}

	if c.Workers == 0 {
		c.Workers = d.Workers
	}

	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = d.KeepAlive
	}
}

// Validate checks an enabled config. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("http address is required when enabled")
	}

	u, err := url.Parse(c.Address)
	if err != nil {
		return fmt.Errorf("http address: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http address %q must use http or https", c.Address)
	}

	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be > 0, got %d", c.Workers)
	case c.FlushInterval < 0:
		return fmt.Errorf("flush_interval cannot be negative, got %s", c.FlushInterval)
	case c.RequestTimeout < 0:
		return fmt.Errorf("request_timeout cannot be negative, got %s", c.RequestTimeout)
	}

	if !ValidCompression(c.Compression) {
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	return nil
}

// InFlight is the most samples queued at once. Each synchronous write
// hands the processor one batch per worker and waits for all of them.
func (c *Config) InFlight() int {
	return c.BatchSize * c.Workers
}

// IsKeepAlive reports whether connections are reused.
func (c *Config) IsKeepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
