// Package sink delivers the samples of a finished run to their destinations.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
	"github.com/ethpandaops/frametimer/internal/export"
	httpexport "github.com/ethpandaops/frametimer/internal/export/http"
)

// Config holds configuration for all sinks.
type Config struct {
	Report     ReportConfig      `yaml:"report"`
	Summary    SummaryConfig     `yaml:"summary"`
	ClickHouse ClickHouseConfig  `yaml:"clickhouse"`
	HTTP       httpexport.Config `yaml:"http"`
}

// ApplyDefaults fills unset fields of every sink.
func (c *Config) ApplyDefaults() {
	c.Report.ApplyDefaults()
	c.ClickHouse.ApplyDefaults()
	c.HTTP.ApplyDefaults()
}

// Validate checks every enabled sink.
func (c *Config) Validate() error {
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if c.ClickHouse.Enabled {
		if err := c.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	return nil
}

// Run is a finished profiling run.
type Run struct {
	// Name tags exported rows. It may be empty.
	Name string
	// Store holds the samples. No thread may still be recording into it.
	Store *eventtimer.Store
	// Names maps event kinds to labels.
	Names map[int]string
}

// withRunName returns run, or a copy named name if run has no name.
func withRunName(run *Run, name string) *Run {
	if run.Name != "" {
		return run
	}

	named := *run
	named.Name = name

	return &named
}

// Sink defines the interface for sample consumers.
type Sink interface {
	// Name returns the sink's name for logging.
	Name() string
	// Start prepares the sink, opening connections if needed.
	Start(ctx context.Context) error
	// Export delivers every sample of run.
	Export(ctx context.Context, run *Run) error
	// Stop flushes and releases the sink.
	Stop() error
}

// Record is one exported sample.
type Record struct {
	RunName       string    `json:"run_name,omitempty"`
	RunStartedAt  time.Time `json:"run_started_at"`
	Thread        uint32    `json:"thread"`
	Frame         uint32    `json:"frame"`
	Event         uint32    `json:"event"`
	Label         string    `json:"label"`
	StartUs       int64     `json:"start_us"`
	StopUs        int64     `json:"stop_us"`
	DurationUs    int64     `json:"duration_us"`
	CounterNames  []string  `json:"counter_names,omitempty"`
	CounterDeltas []int64   `json:"counter_deltas,omitempty"`
}

// Records flattens run in report order.
func Records(run *Run) []Record {
	rows := run.Store.Rows(run.Names)
	counters := run.Store.Counters()
	started := run.Store.Epoch().UTC()

	records := make([]Record, len(rows))

	for i, row := range rows {
		records[i] = Record{
			RunName:       run.Name,
			RunStartedAt:  started,
			Thread:        uint32(row.Thread),
			Frame:         uint32(row.Frame),
			Event:         uint32(row.Event),
			Label:         row.Label,
			StartUs:       row.StartUs,
			StopUs:        row.StopUs,
			DurationUs:    row.StopUs - row.StartUs,
			CounterNames:  counters,
			CounterDeltas: row.Deltas,
		}
	}

	return records
}

// New builds the configured sinks. The report sink is always present.
func New(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
) ([]Sink, error) {
	sinks := []Sink{NewReportSink(log, cfg.Report)}

	if cfg.Summary.Enabled {
		sinks = append(sinks, NewSummarySink(log, cfg.Summary))
	}

	if cfg.ClickHouse.Enabled {
		sinks = append(sinks, NewClickHouseSink(log, cfg.ClickHouse, health))
	}

	if cfg.HTTP.Enabled {
		s, err := NewHTTPSink(log, cfg.HTTP, health)
		if err != nil {
			return nil, fmt.Errorf("creating http sink: %w", err)
		}

		sinks = append(sinks, s)
	}

	return sinks, nil
}

func observeExport(health *export.HealthMetrics, sink string, start time.Time, rows int) {
	if health == nil {
		return
	}

	health.SinkExportDuration.WithLabelValues(sink).Observe(time.Since(start).Seconds())
	health.SinkRowsExported.WithLabelValues(sink).Add(float64(rows))
}

func recordExportError(health *export.HealthMetrics, sink, errorType string) {
	if health == nil {
		return
	}

	health.ExportErrors.WithLabelValues(sink, errorType).Inc()
}
