//go:build !notiming

package eventtimer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(s *Store, thread, event, n int) {
	for i := 0; i < n; i++ {
		s.Start(thread, event)
		s.Stop(thread, event)
	}
}

func TestAdvanceFrame_HintSequence(t *testing.T) {
	s := newStore(t, 1, 1, 4)

	counts := []int{1, 1, 5}
	wantHints := []int{1, 1, 10}

	for f, n := range counts {
		record(s, 0, 0, n)
		s.AdvanceFrame()

		assert.Equal(t, wantHints[f], s.Hint(0), "after frame %d", f)
		assert.Equal(t, f+1, s.Frame())
	}

	// Frames 0 and 1 were never touched by the growth after frame 2.
	assert.Equal(t, 1, cap(s.Instances(0, 0, 0)))
	assert.Equal(t, 1, cap(s.Instances(0, 0, 1)))
	assert.GreaterOrEqual(t, cap(s.Instances(0, 0, 3)), 10)
}

func TestAdvanceFrame_GrowthIsForwardOnly(t *testing.T) {
	s := newStore(t, 2, 2, 4)

	// Frame 0: event 0 peaks at 3 on thread 1; event 1 stays at 1.
	record(s, 0, 0, 1)
	record(s, 1, 0, 3)
	record(s, 0, 1, 1)

	frame0 := cap(s.Instances(1, 0, 0))

	s.AdvanceFrame()

	assert.Equal(t, 6, s.Hint(0))
	assert.Equal(t, 1, s.Hint(1))

	// The closed frame keeps its allocation.
	assert.Equal(t, frame0, cap(s.Instances(1, 0, 0)))
	assert.Equal(t, 1, cap(s.Instances(0, 0, 0)))

	// Every later frame of event 0 on every thread is reserved.
	for th := 0; th < 2; th++ {
		for f := 1; f < 4; f++ {
			assert.GreaterOrEqual(t, cap(s.Instances(th, 0, f)), 6,
				"thread %d frame %d", th, f)
			assert.Equal(t, 1, cap(s.Instances(th, 1, f)),
				"thread %d frame %d", th, f)
		}
	}

	// Six instances in frame 1 fit without reallocating.
	before := cap(s.Instances(0, 0, 1))
	record(s, 0, 0, 6)
	assert.Equal(t, before, cap(s.Instances(0, 0, 1)))
}

func TestAdvanceFrame_Stats(t *testing.T) {
	var got []FrameStats

	s, err := New(testLog(), Config{
		Threads: 2, Events: 2, Frames: 2,
		OnFrameAdvanced: func(fs FrameStats) {
			got = append(got, fs)
		},
	})
	require.NoError(t, err)

	record(s, 0, 0, 1)
	record(s, 1, 0, 2)
	record(s, 1, 1, 1)
	s.AdvanceFrame()
	s.AdvanceFrame()

	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].Frame)
	assert.Equal(t, 4, got[0].Samples)
	assert.Equal(t, []int{2, 1}, got[0].Peak)
	assert.Equal(t, []int{0}, got[0].Grown)
	assert.Equal(t, []int{4, 1}, got[0].Hints)

	assert.Equal(t, 1, got[1].Frame)
	assert.Zero(t, got[1].Samples)
	assert.Empty(t, got[1].Grown)
}

func TestAdvanceFrame_FrameIsolation(t *testing.T) {
	s := newStore(t, 1, 1, 3)

	record(s, 0, 0, 2)
	s.AdvanceFrame()

	frame0 := append([]Sample(nil), s.Instances(0, 0, 0)...)

	record(s, 0, 0, 3)
	s.AdvanceFrame()

	assert.Equal(t, frame0, s.Instances(0, 0, 0))
	assert.Len(t, s.Instances(0, 0, 1), 3)
	assert.Empty(t, s.Instances(0, 0, 2))
}

func TestAdvanceFrame_PastLastFramePanics(t *testing.T) {
	s := newStore(t, 1, 1, 2)

	s.AdvanceFrame()
	s.AdvanceFrame()
	assert.Equal(t, 2, s.Frame())

	// The frame pointer may sit one past the end, but recording there or
	// advancing again is a programming error.
	assert.Panics(t, func() { s.Start(0, 0) })
	assert.PanicsWithValue(t,
		"eventtimer: cannot advance past frame 2 of 2",
		func() { s.AdvanceFrame() },
	)
}

func TestOverflowWithinFrame(t *testing.T) {
	s := newStore(t, 1, 1, 2)

	// The hint is 1, so this frame reallocates while recording. Every
	// sample must survive the growth.
	const n = 100

	for i := 0; i < n; i++ {
		s.Start(0, 0)
		s.Stop(0, 0)
	}

	cell := s.Instances(0, 0, 0)
	require.Len(t, cell, n)

	for i := range cell {
		assert.NotZero(t, cell[i].Stop, "instance %d", i)
		assert.GreaterOrEqual(t, cell[i].Stop, cell[i].Start)
	}

	s.AdvanceFrame()
	assert.Equal(t, 2*n, s.Hint(0))
}

func TestReserve(t *testing.T) {
	c := make([]Sample, 2, 2)
	c[1].Start = 7

	grown := reserve(c, 8)
	assert.Len(t, grown, 2)
	assert.GreaterOrEqual(t, cap(grown), 8)
	assert.Equal(t, c[1].Start, grown[1].Start)

	same := reserve(grown, 4)
	assert.Equal(t, cap(grown), cap(same))
}
