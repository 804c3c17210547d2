package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
	httpexport "github.com/ethpandaops/frametimer/internal/export/http"
)

// Stdout selects standard output as the report destination.
const Stdout = "-"

// ReportConfig configures the tabular report.
type ReportConfig struct {
	// Path is the report file. Empty or "-" writes to standard output.
	Path string `yaml:"path"`
	// Separator is the single-character column separator. Defaults to a
	// tab.
	Separator string `yaml:"separator"`
	// Compression compresses a report file with one of the HTTP exporter's
	// algorithms. The algorithm's extension is appended to Path unless it
	// is already there. Ignored for standard output.
	Compression string `yaml:"compression"`
}

// ApplyDefaults fills unset fields.
func (c *ReportConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = Stdout
	}

	if c.Separator == "" {
		c.Separator = "\t"
	}

	if c.Compression == "" {
		c.Compression = httpexport.CompressionNone
	}
}

// Validate checks the report configuration.
func (c *ReportConfig) Validate() error {
	if len(c.Separator) > 1 {
		return fmt.Errorf("separator must be a single byte, got %q", c.Separator)
	}

	if c.Separator == "\n" {
		return errors.New("separator cannot be a newline")
	}

	if !httpexport.ValidCompression(c.Compression) {
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	return nil
}

func (c *ReportConfig) separator() byte {
	if c.Separator == "" {
		return eventtimer.Tab
	}

	return c.Separator[0]
}

// ReportSink writes the tabular report of a run.
type ReportSink struct {
	log    logrus.FieldLogger
	cfg    ReportConfig
	stdout io.Writer
}

var _ Sink = (*ReportSink)(nil)

// NewReportSink creates a report sink.
func NewReportSink(log logrus.FieldLogger, cfg ReportConfig) *ReportSink {
	cfg.ApplyDefaults()

	return &ReportSink{
		log:    log.WithField("sink", "report"),
		cfg:    cfg,
		stdout: os.Stdout,
	}
}

func (s *ReportSink) Name() string { return "report" }

func (s *ReportSink) Start(_ context.Context) error { return nil }

func (s *ReportSink) Stop() error { return nil }

// Path returns the file the report is written to, or Stdout.
func (s *ReportSink) Path() string {
	if s.cfg.Path == Stdout || s.cfg.Compression == httpexport.CompressionNone {
		return s.cfg.Path
	}

	c, err := httpexport.NewCompressor(s.cfg.Compression)
	if err != nil {
		return s.cfg.Path
	}
	defer c.Close()

	ext := c.Extension()
	if strings.HasSuffix(s.cfg.Path, ext) {
		return s.cfg.Path
	}

	return s.cfg.Path + ext
}

// Export writes the report.
func (s *ReportSink) Export(_ context.Context, run *Run) error {
	opts := eventtimer.ReportOptions{
		Names:     run.Names,
		Separator: s.cfg.separator(),
	}

	if s.cfg.Path == Stdout {
		return run.Store.WriteReport(s.stdout, opts)
	}

	start := time.Now()
	path := s.Path()

	if err := s.writeFile(path, run, opts); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"path":     path,
		"samples":  run.Store.Len(),
		"duration": time.Since(start),
	}).Info("Wrote report")

	return nil
}

func (s *ReportSink) writeFile(path string, run *Run, opts eventtimer.ReportOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing report file: %w", cerr)
		}
	}()

	c, err := httpexport.NewCompressor(s.cfg.Compression)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	defer c.Close()

	w, err := c.NewWriter(f)
	if err != nil {
		return fmt.Errorf("creating compressed writer: %w", err)
	}

	if err := run.Store.WriteReport(w, opts); err != nil {
		_ = w.Close()

		return err
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing report: %w", err)
	}

	return nil
}
