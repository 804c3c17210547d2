package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/internal/export"
)

// ClickHouseConfig configures the ClickHouse samples sink.
type ClickHouseConfig struct {
	Enabled                 bool `yaml:"enabled"`
	export.ClickHouseConfig `yaml:",inline"`
}

var clickHouseColumns = []string{
	"run_name",
	"run_started_at",
	"thread",
	"frame",
	"event",
	"label",
	"start_us",
	"stop_us",
	"duration_us",
	"counter_names",
	"counter_deltas",
}

// ClickHouseSink inserts every sample of a run into the samples table in
// batches.
type ClickHouseSink struct {
	log    logrus.FieldLogger
	writer *export.ClickHouseWriter
	health *export.HealthMetrics
}

var _ Sink = (*ClickHouseSink)(nil)

// NewClickHouseSink creates a ClickHouse sink. Start connects.
func NewClickHouseSink(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *export.HealthMetrics,
) *ClickHouseSink {
	return &ClickHouseSink{
		log:    log.WithField("sink", "clickhouse"),
		writer: export.NewClickHouseWriter(log, cfg.ClickHouseConfig),
		health: health,
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Start(ctx context.Context) error {
	if err := s.writer.Start(ctx); err != nil {
		recordExportError(s.health, s.Name(), "connect")

		return err
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues(s.Name()).Set(1)
	}

	return nil
}

func (s *ClickHouseSink) Stop() error {
	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues(s.Name()).Set(0)
	}

	return s.writer.Stop()
}

// Export inserts the run's samples, BatchSize rows per insert.
func (s *ClickHouseSink) Export(ctx context.Context, run *Run) error {
	cfg := s.writer.Config()

	records := Records(withRunName(run, cfg.MetaRunName))
	start := time.Now()

	for _, chunk := range chunks(records, cfg.BatchSize) {
		if err := s.flush(ctx, chunk); err != nil {
			return err
		}
	}

	observeExport(s.health, s.Name(), start, len(records))

	s.log.WithFields(logrus.Fields{
		"rows":     len(records),
		"table":    cfg.Database + "." + cfg.Table,
		"duration": time.Since(start),
	}).Info("Exported samples to ClickHouse")

	return nil
}

func (s *ClickHouseSink) flush(ctx context.Context, rows []Record) error {
	cfg := s.writer.Config()

	batch, err := s.writer.Conn().PrepareBatch(ctx, insertQuery(cfg.Database, cfg.Table))
	if err != nil {
		recordExportError(s.health, s.Name(), "prepare")

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(appendArgs(row)...); err != nil {
			_ = batch.Abort()

			recordExportError(s.health, s.Name(), "append")

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		recordExportError(s.health, s.Name(), "send")

		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	return nil
}

func insertQuery(database, table string) string {
	return fmt.Sprintf("INSERT INTO %s.%s (%s)",
		database, table, strings.Join(clickHouseColumns, ", "))
}

// appendArgs returns row's values in clickHouseColumns order.
func appendArgs(row Record) []any {
	names := row.CounterNames
	if names == nil {
		names = []string{}
	}

	deltas := row.CounterDeltas
	if deltas == nil {
		deltas = []int64{}
	}

	return []any{
		row.RunName,
		row.RunStartedAt,
		row.Thread,
		row.Frame,
		row.Event,
		row.Label,
		row.StartUs,
		row.StopUs,
		row.DurationUs,
		names,
		deltas,
	}
}

func chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}

	var out [][]T

	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}

	return out
}
