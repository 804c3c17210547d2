package eventtimer

import "time"

// Sample is one timed interval. Start and Stop are offsets from the store's
// epoch. Stop stays zero until the matching Stop call completes the sample.
type Sample struct {
	Start time.Duration
	Stop  time.Duration

	// Counter readings at start and stop. Only the first len(Counters())
	// slots are meaningful, and only for registered threads.
	CounterStart [MaxCounters]int64
	CounterStop  [MaxCounters]int64
}

// Elapsed returns the wall time between start and stop.
func (s *Sample) Elapsed() time.Duration {
	return s.Stop - s.Start
}

// Delta returns the change of counter i across the interval.
func (s *Sample) Delta(i int) int64 {
	return s.CounterStop[i] - s.CounterStart[i]
}
