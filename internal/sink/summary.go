package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Duration bucket upper bounds in microseconds. The last bucket is
// unbounded.
var summaryBuckets = [...]int64{10, 100, 1_000, 10_000, 100_000, 1_000_000}

const numSummaryBuckets = len(summaryBuckets) + 1

// SummaryConfig configures the per-event summary.
type SummaryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path also writes the summary table to a file. Empty only logs it.
	Path string `yaml:"path"`
}

// EventSummary aggregates every sample of one event kind.
type EventSummary struct {
	Event int
	Label string
	Count int
	SumUs int64
	MinUs int64
	MaxUs int64
	// Histogram counts durations below each summaryBuckets bound, with
	// the last slot for everything above.
	Histogram [numSummaryBuckets]int
	// CounterSums totals each counter's deltas, in Store.Counters order.
	CounterSums []int64
}

func newEventSummary(event int, label string, counters int) *EventSummary {
	return &EventSummary{
		Event:       event,
		Label:       label,
		MinUs:       math.MaxInt64,
		MaxUs:       math.MinInt64,
		CounterSums: make([]int64, counters),
	}
}

func (e *EventSummary) add(durUs int64, deltas []int64) {
	e.Count++
	e.SumUs += durUs
	e.MinUs = min(e.MinUs, durUs)
	e.MaxUs = max(e.MaxUs, durUs)
	e.Histogram[durationBucket(durUs)]++

	for i, d := range deltas {
		e.CounterSums[i] += d
	}
}

// MeanUs returns the mean duration, or zero without samples.
func (e *EventSummary) MeanUs() float64 {
	if e.Count == 0 {
		return 0
	}

	return float64(e.SumUs) / float64(e.Count)
}

func durationBucket(us int64) int {
	for i, bound := range summaryBuckets {
		if us < bound {
			return i
		}
	}

	return len(summaryBuckets)
}

// Summarize aggregates run per event kind, ordered by kind. Kinds with no
// samples are left out.
func Summarize(run *Run) []*EventSummary {
	_, events, _ := run.Store.Dims()
	counters := len(run.Store.Counters())

	byEvent := make([]*EventSummary, events)

	for _, row := range run.Store.Rows(run.Names) {
		s := byEvent[row.Event]
		if s == nil {
			s = newEventSummary(row.Event, row.Label, counters)
			byEvent[row.Event] = s
		}

		s.add(row.StopUs-row.StartUs, row.Deltas)
	}

	out := make([]*EventSummary, 0, events)

	for _, s := range byEvent {
		if s != nil {
			out = append(out, s)
		}
	}

	return out
}

// SummarySink logs per-event statistics of a run.
type SummarySink struct {
	log logrus.FieldLogger
	cfg SummaryConfig
}

var _ Sink = (*SummarySink)(nil)

// NewSummarySink creates a summary sink.
func NewSummarySink(log logrus.FieldLogger, cfg SummaryConfig) *SummarySink {
	return &SummarySink{
		log: log.WithField("sink", "summary"),
		cfg: cfg,
	}
}

func (s *SummarySink) Name() string { return "summary" }

func (s *SummarySink) Start(_ context.Context) error { return nil }

func (s *SummarySink) Stop() error { return nil }

func (s *SummarySink) Export(_ context.Context, run *Run) error {
	summaries := Summarize(run)
	counters := run.Store.Counters()

	for _, es := range summaries {
		fields := logrus.Fields{
			"event":   es.Label,
			"count":   es.Count,
			"mean_us": es.MeanUs(),
			"min_us":  es.MinUs,
			"max_us":  es.MaxUs,
		}

		for i, name := range counters {
			fields[name] = es.CounterSums[i]
		}

		s.log.WithFields(fields).Info("Event summary")
	}

	if s.cfg.Path == "" {
		return nil
	}

	f, err := os.Create(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("creating summary file: %w", err)
	}

	if err := writeSummary(f, summaries, counters); err != nil {
		_ = f.Close()

		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing summary file: %w", err)
	}

	return nil
}

// writeSummary writes one tab-separated row per event kind.
func writeSummary(w io.Writer, summaries []*EventSummary, counters []string) error {
	bw := bufio.NewWriter(w)

	bw.WriteString("Event\tCount\tMeanUs\tMinUs\tMaxUs")

	for _, bound := range summaryBuckets {
		bw.WriteString("\tLt" + strconv.FormatInt(bound, 10) + "us")
	}

	bw.WriteString("\tRest")

	for _, name := range counters {
		bw.WriteString("\t" + name)
	}

	bw.WriteByte('\n')

	for _, es := range summaries {
		fmt.Fprintf(bw, "%s\t%d\t%.1f\t%d\t%d", es.Label, es.Count, es.MeanUs(), es.MinUs, es.MaxUs)

		for _, n := range es.Histogram {
			fmt.Fprintf(bw, "\t%d", n)
		}

		for _, sum := range es.CounterSums {
			fmt.Fprintf(bw, "\t%d", sum)
		}

		bw.WriteByte('\n')
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return nil
}
