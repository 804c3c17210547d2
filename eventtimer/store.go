// Package eventtimer records per-thread start/stop timings and optional
// hardware counter readings for programs that run in repeated frames.
//
// A Store is indexed by (thread, event kind, frame) and every cell is
// written by exactly one logical thread, so the recording phase takes no
// locks. The frame pointer is shared: Start and Stop read it at call time
// and a single coordinator moves it forward with AdvanceFrame once all
// workers have finished the frame. The coordinator's call is the only
// point where cell capacity changes; hosts must place a barrier between
// the last Stop of a frame and AdvanceFrame.
package eventtimer

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultHint is the number of instances reserved per cell before any
// growth has been observed.
const defaultHint = 1

// Config describes the dimensions of a Store and its optional counter
// backend.
type Config struct {
	// Threads is the number of logical threads (0..Threads-1).
	Threads int
	// Events is the number of event kinds (0..Events-1).
	Events int
	// Frames is the number of frames the store can hold.
	Frames int

	// ThreadID identifies OS threads for the counter backend.
	ThreadID ThreadIDFunc
	// Backend reads hardware counters. Nil records timings only.
	Backend CounterBackend
	// Counters lists the counters to track. Empty selects DefaultCounters
	// when a Backend is set.
	Counters []string

	// OnFrameAdvanced, if set, is called by AdvanceFrame after the frame
	// pointer has moved.
	OnFrameAdvanced func(FrameStats)
}

// Validate checks the dimensions and the counter list.
func (c *Config) Validate() error {
	if c.Threads <= 0 {
		return errors.New("threads must be positive")
	}

	if c.Events <= 0 {
		return errors.New("events must be positive")
	}

	if c.Frames <= 0 {
		return errors.New("frames must be positive")
	}

	if len(c.Counters) > MaxCounters {
		return fmt.Errorf("at most %d counters are supported, got %d",
			MaxCounters, len(c.Counters))
	}

	if len(c.Counters) > 0 && c.Backend == nil {
		return errors.New("counters require a counter backend")
	}

	return nil
}

// Store holds every sample of a profiling run.
type Store struct {
	log logrus.FieldLogger

	threads []*threadState
	events  int
	frames  int

	// frame is written only by AdvanceFrame.
	frame atomic.Int64
	// hints is the expected instances per frame, indexed by event kind.
	// Owned by the AdvanceFrame caller.
	hints []int

	epoch    time.Time
	backend  CounterBackend
	counters []string
	onFrame  func(FrameStats)
}

// threadState is everything written by one logical thread. Each one is a
// separate allocation, padded so neighbouring threads do not share a cache
// line.
type threadState struct {
	// cells is indexed by event*frames + frame.
	cells [][]Sample
	// seq is bumped around every capture as a full barrier.
	seq        atomic.Uint64
	registered bool
	_          [64]byte
}

// New allocates a store with the given dimensions, reserving the default
// capacity in every cell, and initializes the counter backend if one is
// configured.
func New(log logrus.FieldLogger, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Store{
		log:     log.WithField("component", "eventtimer"),
		events:  cfg.Events,
		frames:  cfg.Frames,
		backend: cfg.Backend,
		onFrame: cfg.OnFrameAdvanced,
	}

	if !Enabled {
		return s, nil
	}

	if s.backend != nil {
		s.counters = slices.Clone(cfg.Counters)
		if len(s.counters) == 0 {
			s.counters = slices.Clone(DefaultCounters)
		}

		if err := s.backend.Init(cfg.ThreadID); err != nil {
			return nil, fmt.Errorf("initializing counter backend: %w", err)
		}
	}

	s.hints = make([]int, cfg.Events)
	for e := range s.hints {
		s.hints[e] = defaultHint
	}

	s.threads = make([]*threadState, cfg.Threads)
	for t := range s.threads {
		ts := &threadState{
			cells: make([][]Sample, cfg.Events*cfg.Frames),
		}

		for i := range ts.cells {
			ts.cells[i] = make([]Sample, 0, defaultHint)
		}

		s.threads[t] = ts
	}

	// Offsets are reported relative to this instant.
	s.epoch = time.Now()

	s.log.WithFields(logrus.Fields{
		"threads":  cfg.Threads,
		"events":   cfg.Events,
		"frames":   cfg.Frames,
		"counters": s.counters,
	}).Info("Event store initialized")

	return s, nil
}

// Close releases the counter backend. Collected samples stay readable.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}

	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("closing counter backend: %w", err)
	}

	return nil
}

// Dims returns the configured thread, event and frame counts.
func (s *Store) Dims() (threads, events, frames int) {
	return len(s.threads), s.events, s.frames
}

// Frame returns the current frame.
func (s *Store) Frame() int {
	return int(s.frame.Load())
}

// Epoch returns the instant sample offsets are measured from.
func (s *Store) Epoch() time.Time {
	return s.epoch
}

// Counters returns the names of the tracked hardware counters, in the order
// their readings are stored. It is empty when counters are disabled.
func (s *Store) Counters() []string {
	return s.counters
}

// Hint returns the capacity currently reserved for future frames of the
// given event kind.
func (s *Store) Hint(event int) int {
	if !Enabled {
		return 0
	}

	if uint(event) >= uint(s.events) {
		outOfRange("event", event, s.events)
	}

	return s.hints[event]
}

// Instances returns the samples recorded at a coordinate. The slice aliases
// the store and must not be modified or read while its owning thread is
// still recording into it.
func (s *Store) Instances(thread, event, frame int) []Sample {
	if !Enabled {
		return nil
	}

	_, cell := s.cell(thread, event, frame)

	return *cell
}

func (s *Store) cell(thread, event, frame int) (*threadState, *[]Sample) {
	if uint(thread) >= uint(len(s.threads)) {
		outOfRange("thread", thread, len(s.threads))
	}

	if uint(event) >= uint(s.events) {
		outOfRange("event", event, s.events)
	}

	if uint(frame) >= uint(s.frames) {
		outOfRange("frame", frame, s.frames)
	}

	ts := s.threads[thread]

	return ts, &ts.cells[event*s.frames+frame]
}

func outOfRange(what string, v, n int) {
	panic(fmt.Sprintf("eventtimer: %s %d out of range [0, %d)", what, v, n))
}
