package eventtimer

import (
	"fmt"
	"runtime"
	"time"
)

// RegisterThread binds the calling goroutine's OS thread to hardware
// counting under the given logical index. The goroutine stays locked to its
// OS thread afterwards, since counters follow the OS thread and not the
// goroutine. Without a counter backend this does nothing.
//
// Call it once from each worker before its first Start. Timing alone never
// needs it.
func (s *Store) RegisterThread(thread int) error {
	if !Enabled || s.backend == nil {
		return nil
	}

	if uint(thread) >= uint(len(s.threads)) {
		outOfRange("thread", thread, len(s.threads))
	}

	runtime.LockOSThread()

	if err := s.backend.Register(thread, s.counters); err != nil {
		runtime.UnlockOSThread()

		return fmt.Errorf("registering thread %d: %w", thread, err)
	}

	s.threads[thread].registered = true

	s.log.WithField("thread", thread).Debug("Registered thread for hardware counters")

	return nil
}

// Start opens a new sample for (thread, event) in the current frame. The
// frame is read at call time, so it tracks AdvanceFrame.
func (s *Store) Start(thread, event int) {
	if !Enabled {
		return
	}

	s.StartAt(thread, event, int(s.frame.Load()))
}

// Stop completes the most recent sample for (thread, event) in the current
// frame.
func (s *Store) Stop(thread, event int) {
	if !Enabled {
		return
	}

	s.StopAt(thread, event, int(s.frame.Load()))
}

// StartAt appends a stop-pending sample at an explicit coordinate.
//
// The caller must not have an unmatched Start pending at the same
// coordinate; this is not checked.
func (s *Store) StartAt(thread, event, frame int) {
	if !Enabled {
		return
	}

	ts, cell := s.cell(thread, event, frame)

	smp := Sample{Start: time.Since(s.epoch)}
	ts.seq.Add(1)

	if ts.registered {
		s.readCounters(thread, smp.CounterStart[:len(s.counters)])
	}

	*cell = append(*cell, smp)
}

// StopAt completes the last sample at an explicit coordinate. It must
// follow a StartAt (or Start) on the same coordinate.
func (s *Store) StopAt(thread, event, frame int) {
	if !Enabled {
		return
	}

	ts, cell := s.cell(thread, event, frame)

	now := time.Since(s.epoch)
	ts.seq.Add(1)

	n := len(*cell)
	if n == 0 {
		panic(fmt.Sprintf(
			"eventtimer: stop without start at thread %d event %d frame %d",
			thread, event, frame,
		))
	}

	last := &(*cell)[n-1]

	if ts.registered {
		s.readCounters(thread, last.CounterStop[:len(s.counters)])
	}

	last.Stop = now
}

func (s *Store) readCounters(thread int, dst []int64) {
	if err := s.backend.Read(thread, dst); err != nil {
		panic(fmt.Sprintf("eventtimer: reading counters of thread %d: %v", thread, err))
	}
}
