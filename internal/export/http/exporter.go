// Package http posts samples as NDJSON to Vector or any other HTTP
// collector. Each request carries one batch; a run is delivered in order,
// batch after batch, and a failed request fails the export.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/internal/version"
)

// Request headers describing a batch.
const (
	HeaderRun     = "X-Frametimer-Run"
	HeaderSamples = "X-Frametimer-Samples"
)

// bytesPerSample sizes the encode buffer; a sample line is roughly this long.
const bytesPerSample = 192

// errBodyLimit caps how much of a rejected response ends up in the error.
const errBodyLimit = 256

// Exporter posts batches of samples. It satisfies processor.ItemExporter.
type Exporter[T any] struct {
	log        logrus.FieldLogger
	address    string
	headers    http.Header
	client     *http.Client
	compressor *Compressor
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter validates cfg and prepares the client and compressor.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Exporter[T]{
		log:        log.WithField("component", "http_exporter"),
		address:    cfg.Address,
		headers:    requestHeaders(cfg, compressor),
		compressor: compressor,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.Workers,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   !cfg.IsKeepAlive(),
			},
		},
	}, nil
}

// requestHeaders builds the headers shared by every batch. User headers
// go last so they can override the defaults.
func requestHeaders(cfg Config, c *Compressor) http.Header {
	h := make(http.Header, len(cfg.Headers)+4)
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("User-Agent", version.UserAgent())

	if enc := c.ContentEncoding(); enc != "" {
		h.Set("Content-Encoding", enc)
	}

	if cfg.MetaRunName != "" {
		h.Set(HeaderRun, cfg.MetaRunName)
	}

	for k, v := range cfg.Headers {
		h.Set(k, v)
	}

	return h
}

// ExportItems posts one batch. Nil samples are skipped; a batch of only
// nils sends nothing.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	raw, n, err := encodeNDJSON(items)
	if err != nil {
		return err
	}

	if n == 0 {
		return nil
	}

	body, err := e.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("compressing batch: %w", err)
	}

	if err := e.post(ctx, body, n); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"samples":    n,
		"bytes":      len(raw),
		"compressed": len(body),
	}).Debug("Posted sample batch")

	return nil
}

func encodeNDJSON[T any](items []*T) ([]byte, int, error) {
	var buf bytes.Buffer

	buf.Grow(len(items) * bytesPerSample)

	enc := json.NewEncoder(&buf)
	n := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding sample %d: %w", n, err)
		}

		n++
	}

	return buf.Bytes(), n, nil
}

func (e *Exporter[T]) post(ctx context.Context, body []byte, samples int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header = e.headers.Clone()
	req.Header.Set(HeaderSamples, strconv.Itoa(samples))

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %d samples: %w", samples, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))

	return fmt.Errorf("collector returned %d for %d samples: %s",
		resp.StatusCode, samples, strings.TrimSpace(string(snippet)))
}

// Shutdown releases the compressor.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

// NewProcessor wraps an exporter in a synchronous BatchItemProcessor: Write
// returns once every sample it was given has been posted, or with the
// first request error.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithShippingMethod(processor.ShippingMethodSync),
		processor.WithMaxQueueSize(cfg.InFlight()),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
		processor.WithBatchTimeout(cfg.FlushInterval),
		processor.WithExportTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
