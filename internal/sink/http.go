package sink

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/internal/export"
	httpexport "github.com/ethpandaops/frametimer/internal/export/http"
)

// HTTPSink posts every sample of a run as NDJSON, one line per sample.
type HTTPSink struct {
	log    logrus.FieldLogger
	cfg    httpexport.Config
	health *export.HealthMetrics
	proc   *processor.BatchItemProcessor[Record]
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(
	log logrus.FieldLogger,
	cfg httpexport.Config,
	health *export.HealthMetrics,
) (*HTTPSink, error) {
	cfg.ApplyDefaults()

	proc, err := httpexport.NewProcessor[Record](log, cfg, "samples_http")
	if err != nil {
		return nil, err
	}

	return &HTTPSink{
		log:    log.WithField("sink", "http"),
		cfg:    cfg,
		health: health,
		proc:   proc,
	}, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Start(ctx context.Context) error {
	s.proc.Start(ctx)

	return nil
}

// Stop shuts the processor down. Export has already waited for every
// batch, so nothing is pending here.
func (s *HTTPSink) Stop() error {
	if err := s.proc.Shutdown(context.Background()); err != nil {
		recordExportError(s.health, s.Name(), "shutdown")

		return fmt.Errorf("shutting down http processor: %w", err)
	}

	return nil
}

// Export posts the run's samples and returns once the collector has
// accepted all of them, or with the first failed request.
func (s *HTTPSink) Export(ctx context.Context, run *Run) error {
	records := Records(withRunName(run, s.cfg.MetaRunName))
	if len(records) == 0 {
		return nil
	}

	start := time.Now()

	items := make([]*Record, len(records))
	for i := range records {
		items[i] = &records[i]
	}

	if err := s.proc.Write(ctx, items); err != nil {
		recordExportError(s.health, s.Name(), "post")

		return fmt.Errorf("posting samples: %w", err)
	}

	observeExport(s.health, s.Name(), start, len(records))

	s.log.WithFields(logrus.Fields{
		"samples":    len(records),
		"batch_size": s.cfg.BatchSize,
	}).Info("Posted samples to HTTP collector")

	return nil
}
