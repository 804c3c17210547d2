// Package bench drives a simulated frame loop over an event store: worker
// threads record configured event kinds every frame, a coordinator advances
// frames between them, and the finished run is handed to the sinks.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
	"github.com/ethpandaops/frametimer/internal/clock"
	"github.com/ethpandaops/frametimer/internal/export"
	"github.com/ethpandaops/frametimer/internal/perf"
	"github.com/ethpandaops/frametimer/internal/sink"
)

// Bench runs one profiling session.
type Bench interface {
	// Run records every frame, exports the samples and returns a summary.
	Run(ctx context.Context) (*Result, error)
	// Health returns the metrics the run reports to.
	Health() *export.HealthMetrics
}

// Result summarizes a finished run.
type Result struct {
	Frames   int
	Samples  int
	Overruns int
	Elapsed  time.Duration
	// Hints is the final capacity hint per event kind.
	Hints []int
	// Store holds the recorded samples.
	Store *eventtimer.Store
}

type bench struct {
	log    logrus.FieldLogger
	cfg    *Config
	names  map[int]string
	health *export.HealthMetrics
	sinks  []sink.Sink

	// newBackend is replaced in tests.
	newBackend func(threads int) eventtimer.CounterBackend
	threadID   eventtimer.ThreadIDFunc
}

// New creates a Bench from a validated config.
func New(log logrus.FieldLogger, cfg *Config) (Bench, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	sinks, err := sink.New(log, cfg.Sinks, health)
	if err != nil {
		return nil, fmt.Errorf("creating sinks: %w", err)
	}

	return &bench{
		log:    log.WithField("component", "bench"),
		cfg:    cfg,
		names:  cfg.Names(),
		health: health,
		sinks:  sinks,
		newBackend: func(threads int) eventtimer.CounterBackend {
			return perf.New(log, threads)
		},
		threadID: perf.ThreadID,
	}, nil
}

func (b *bench) Health() *export.HealthMetrics {
	return b.health
}

func (b *bench) Run(ctx context.Context) (*Result, error) {
	if err := b.health.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting health metrics: %w", err)
	}

	defer func() {
		if err := b.health.Stop(); err != nil {
			b.log.WithError(err).Warn("Failed to stop health metrics server")
		}
	}()

	store, err := b.newStore()
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := store.Close(); err != nil {
			b.log.WithError(err).Warn("Failed to close event store")
		}
	}()

	for _, s := range b.sinks {
		if err := s.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		b.log.WithField("sink", s.Name()).Info("Sink started")
	}

	result, runErr := b.record(ctx, store)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	} else {
		errs = append(errs, b.export(ctx, store))
	}

	for _, s := range b.sinks {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping sink %s: %w", s.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return result, err
	}

	return result, nil
}

func (b *bench) newStore() (*eventtimer.Store, error) {
	cfg := eventtimer.Config{
		Threads: b.cfg.Threads,
		Events:  len(b.cfg.Events),
		Frames:  b.cfg.Frames,
		OnFrameAdvanced: func(fs eventtimer.FrameStats) {
			b.health.RecordFrame(fs, b.names)
		},
	}

	if b.cfg.Counters.Enabled {
		cfg.Backend = b.newBackend(b.cfg.Threads)
		cfg.ThreadID = b.threadID
		cfg.Counters = b.cfg.Counters.Names
	}

	store, err := eventtimer.New(b.log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating event store: %w", err)
	}

	return store, nil
}

// record runs the frame loop. Workers and the coordinator meet at two
// points per frame: the coordinator closes the frame's gate to release the
// workers, and waits for all of them before calling AdvanceFrame.
func (b *bench) record(ctx context.Context, store *eventtimer.Store) (*Result, error) {
	// Frame f is due at began + f*FrameInterval when paced.
	began := time.Now()

	var pacer clock.Pacer

	if b.cfg.FrameInterval > 0 {
		p, err := clock.New(b.log, began, b.cfg.FrameInterval)
		if err != nil {
			return nil, fmt.Errorf("creating frame pacer: %w", err)
		}

		defer func() { _ = p.Stop() }()

		pacer = p
	}

	// quit is closed once no frame is in flight, so a worker never leaves
	// while the coordinator waits for it.
	quit := make(chan struct{})

	gates := make([]chan struct{}, b.cfg.Frames)
	for f := range gates {
		gates[f] = make(chan struct{})
	}

	var (
		ready      sync.WaitGroup
		frameWG    sync.WaitGroup
		workers    sync.WaitGroup
		regMu      sync.Mutex
		regErrs    []error
		registered atomic.Int64
	)

	ready.Add(b.cfg.Threads)
	workers.Add(b.cfg.Threads)

	for t := 0; t < b.cfg.Threads; t++ {
		go func(thread int) {
			defer workers.Done()

			err := store.RegisterThread(thread)
			if err != nil {
				regMu.Lock()
				regErrs = append(regErrs, err)
				regMu.Unlock()
			} else {
				registered.Add(1)
			}

			ready.Done()

			if err != nil {
				return
			}

			b.work(store, thread, gates, quit, &frameWG)
		}(t)
	}

	ready.Wait()

	if b.cfg.Counters.Enabled {
		b.health.ThreadsRegistered.Set(float64(registered.Load()))
	}

	if err := errors.Join(regErrs...); err != nil {
		close(quit)
		workers.Wait()

		return nil, fmt.Errorf("registering worker threads: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"threads":     b.cfg.Threads,
		"frames":      b.cfg.Frames,
		"events":      len(b.cfg.Events),
		"max_samples": b.cfg.MaxSamples(),
	}).Info("Recording frames")

	result := &Result{Store: store}

	var loopErr error

	for f := 0; f < b.cfg.Frames; f++ {
		if pacer != nil {
			if err := pacer.Wait(ctx, uint64(f)); err != nil {
				loopErr = fmt.Errorf("waiting for frame %d: %w", f, err)

				break
			}
		} else if err := ctx.Err(); err != nil {
			loopErr = fmt.Errorf("stopped before frame %d: %w", f, err)

			break
		}

		frameStart := time.Now()

		frameWG.Add(b.cfg.Threads)
		close(gates[f])
		frameWG.Wait()

		store.AdvanceFrame()

		finished := time.Now()
		b.health.FrameDuration.Observe(finished.Sub(frameStart).Seconds())

		if pacer != nil && pacer.Overran(uint64(f), finished) {
			result.Overruns++
			b.health.FramesOverrun.Inc()

			b.log.WithFields(logrus.Fields{
				"frame":  f,
				"missed": pacer.Missed(uint64(f), finished),
			}).Debug("Frame overran its slot")
		}

		result.Frames++
	}

	close(quit)
	workers.Wait()

	result.Elapsed = time.Since(began)
	result.Samples = store.Len()
	result.Hints = make([]int, len(b.cfg.Events))

	for e := range result.Hints {
		result.Hints[e] = store.Hint(e)
	}

	if loopErr != nil {
		return result, loopErr
	}

	b.log.WithFields(logrus.Fields{
		"frames":   result.Frames,
		"samples":  result.Samples,
		"overruns": result.Overruns,
		"elapsed":  result.Elapsed,
	}).Info("Recording finished")

	return result, nil
}

// work is one worker thread's frame loop.
func (b *bench) work(
	store *eventtimer.Store,
	thread int,
	gates []chan struct{},
	quit <-chan struct{},
	frameWG *sync.WaitGroup,
) {
	rng := rand.New(rand.NewPCG(uint64(thread), uint64(len(gates))))

	var acc uint64

	for f := range gates {
		select {
		case <-quit:
			return
		case <-gates[f]:
		}

		for e, ev := range b.cfg.Events {
			n := ev.Instances
			if ev.Jitter > 0 {
				n += rng.IntN(ev.Jitter + 1)
			}

			for i := 0; i < n; i++ {
				store.Start(thread, e)
				acc += spin(ev.Work)
				store.Stop(thread, e)
			}
		}

		frameWG.Done()
	}

	spinSink.Add(acc)
}

// spinSink keeps spin results observable so the loop is not eliminated.
var spinSink atomic.Uint64

// spin burns CPU for n iterations of an xorshift step.
func spin(n int) uint64 {
	x := uint64(88172645463325252)

	for i := 0; i < n; i++ {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
	}

	return x
}

// export hands the finished run to every sink.
func (b *bench) export(ctx context.Context, store *eventtimer.Store) error {
	run := &sink.Run{
		Name:  b.cfg.RunName,
		Store: store,
		Names: b.names,
	}

	var errs []error

	for _, s := range b.sinks {
		if err := s.Export(ctx, run); err != nil {
			b.log.WithError(err).WithField("sink", s.Name()).Error("Export failed")

			errs = append(errs, fmt.Errorf("exporting to %s: %w", s.Name(), err))
		}
	}

	return errors.Join(errs...)
}
