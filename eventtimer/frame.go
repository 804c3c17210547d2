package eventtimer

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// FrameStats summarizes a frame that AdvanceFrame has just closed.
type FrameStats struct {
	// Frame is the index of the closed frame.
	Frame int
	// Samples is the number of samples recorded in it across all threads
	// and event kinds.
	Samples int
	// Peak is the largest instance count of any single cell, per event
	// kind.
	Peak []int
	// Grown lists the event kinds whose capacity hint was raised.
	Grown []int
	// Hints is the capacity hint per event kind after growth.
	Hints []int
}

// AdvanceFrame closes the current frame and moves the frame pointer
// forward. It must be called by a single coordinator after every worker has
// stopped writing to the current frame.
//
// For every event kind whose busiest cell in the closing frame held more
// instances than its hint, the hint becomes twice that peak and every later
// frame's cells are reserved to it. Frames already closed are left alone.
func (s *Store) AdvanceFrame() {
	if !Enabled {
		return
	}

	cur := int(s.frame.Load())
	if cur >= s.frames {
		panic(fmt.Sprintf("eventtimer: cannot advance past frame %d of %d", cur, s.frames))
	}

	stats := FrameStats{
		Frame: cur,
		Peak:  make([]int, s.events),
	}

	for e := 0; e < s.events; e++ {
		peak := 0

		for _, ts := range s.threads {
			n := len(ts.cells[e*s.frames+cur])
			stats.Samples += n
			peak = max(peak, n)
		}

		stats.Peak[e] = peak

		if peak <= s.hints[e] {
			continue
		}

		s.hints[e] = peak * 2
		stats.Grown = append(stats.Grown, e)

		for _, ts := range s.threads {
			for f := cur + 1; f < s.frames; f++ {
				c := &ts.cells[e*s.frames+f]
				*c = reserve(*c, s.hints[e])
			}
		}

		s.log.WithFields(logrus.Fields{
			"event": e,
			"frame": cur,
			"peak":  peak,
			"hint":  s.hints[e],
		}).Debug("Raised capacity hint")
	}

	stats.Hints = slices.Clone(s.hints)

	s.frame.Store(int64(cur + 1))

	if s.onFrame != nil {
		s.onFrame(stats)
	}
}

// reserve grows the capacity of c to at least n, keeping its contents.
func reserve(c []Sample, n int) []Sample {
	if cap(c) >= n {
		return c
	}

	return slices.Grow(c, n-len(c))
}
