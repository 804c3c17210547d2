package bench

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
	"github.com/ethpandaops/frametimer/internal/perf"
)

// OverheadConfig configures MeasureOverhead.
type OverheadConfig struct {
	Threads int
	Frames  int
	// Counters reads CPU cycles around every pair as well.
	Counters bool
}

// OverheadResult is the cost of one empty start/stop pair.
type OverheadResult struct {
	Threads int
	Frames  int
	Pairs   int
	// NsPerPair is the mean over threads of the time from a thread's first
	// start to its last stop, divided by the frame count.
	NsPerPair float64
	// CyclesPerPair is the same ratio for CPU cycles. Zero without
	// counters.
	CyclesPerPair float64
}

// Fields returns the result as log fields.
func (r *OverheadResult) Fields() logrus.Fields {
	f := logrus.Fields{
		"threads":     r.Threads,
		"frames":      r.Frames,
		"pairs":       r.Pairs,
		"ns_per_pair": r.NsPerPair,
	}

	if r.CyclesPerPair > 0 {
		f["cycles_per_pair"] = r.CyclesPerPair
	}

	return f
}

// MeasureOverhead records one empty start/stop pair per thread and frame,
// using explicit frame coordinates so no frame advancing is involved.
func MeasureOverhead(log logrus.FieldLogger, cfg OverheadConfig) (*OverheadResult, error) {
	return measureOverhead(log, cfg, nil, perf.ThreadID)
}

func measureOverhead(
	log logrus.FieldLogger,
	cfg OverheadConfig,
	backend eventtimer.CounterBackend,
	threadID eventtimer.ThreadIDFunc,
) (*OverheadResult, error) {
	if cfg.Threads <= 0 || cfg.Frames <= 0 {
		return nil, errors.New("threads and frames must be positive")
	}

	if !eventtimer.Enabled {
		return nil, errors.New("timing is compiled out")
	}

	storeCfg := eventtimer.Config{
		Threads: cfg.Threads,
		Events:  1,
		Frames:  cfg.Frames,
	}

	if cfg.Counters {
		if backend == nil {
			backend = perf.New(log, cfg.Threads)
		}

		storeCfg.Backend = backend
		storeCfg.ThreadID = threadID
		storeCfg.Counters = []string{string(perf.CPUCycles)}
	}

	store, err := eventtimer.New(log, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("creating event store: %w", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close event store")
		}
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for t := 0; t < cfg.Threads; t++ {
		wg.Add(1)

		go func(thread int) {
			defer wg.Done()

			if err := store.RegisterThread(thread); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()

				return
			}

			for f := 0; f < cfg.Frames; f++ {
				store.StartAt(thread, 0, f)
				store.StopAt(thread, 0, f)
			}
		}(t)
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return overheadOf(store, cfg), nil
}

func overheadOf(store *eventtimer.Store, cfg OverheadConfig) *OverheadResult {
	res := &OverheadResult{
		Threads: cfg.Threads,
		Frames:  cfg.Frames,
		Pairs:   cfg.Threads * cfg.Frames,
	}

	cyclesIdx := slices.Index(store.Counters(), string(perf.CPUCycles))

	var ns, cycles float64

	for t := 0; t < cfg.Threads; t++ {
		first := store.Instances(t, 0, 0)[0]
		last := store.Instances(t, 0, cfg.Frames-1)[0]

		ns += float64((last.Stop - first.Start).Nanoseconds()) / float64(cfg.Frames)

		if cyclesIdx >= 0 {
			cycles += float64(last.CounterStop[cyclesIdx]-first.CounterStart[cyclesIdx]) /
				float64(cfg.Frames)
		}
	}

	res.NsPerPair = ns / float64(cfg.Threads)
	res.CyclesPerPair = cycles / float64(cfg.Threads)

	return res
}
