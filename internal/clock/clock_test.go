package clock

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func TestNew_ValidParams(t *testing.T) {
	p, err := New(testLog(), time.Now(), 16*time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.NoError(t, p.Stop())
}

func TestNew_ZeroInterval(t *testing.T) {
	_, err := New(testLog(), time.Now(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be > 0")
}

func TestFrameStartTime(t *testing.T) {
	origin := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p, err := New(testLog(), origin, 20*time.Millisecond)
	require.NoError(t, err)

	defer p.Stop()

	tests := []struct {
		frame uint64
		want  time.Time
	}{
		{frame: 0, want: origin},
		{frame: 1, want: origin.Add(20 * time.Millisecond)},
		{frame: 50, want: origin.Add(time.Second)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.FrameStartTime(tt.frame),
			"frame %d", tt.frame)
	}
}

func TestOverran(t *testing.T) {
	origin := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p, err := New(testLog(), origin, 10*time.Millisecond)
	require.NoError(t, err)

	defer p.Stop()

	assert.False(t, p.Overran(0, origin.Add(5*time.Millisecond)))
	assert.False(t, p.Overran(0, origin.Add(10*time.Millisecond)))
	assert.True(t, p.Overran(0, origin.Add(11*time.Millisecond)))
	assert.True(t, p.Overran(2, origin.Add(31*time.Millisecond)))
}

func TestWait(t *testing.T) {
	origin := time.Now()

	p, err := New(testLog(), origin, 30*time.Millisecond)
	require.NoError(t, err)

	defer p.Stop()

	// Frame 0 is already due.
	require.NoError(t, p.Wait(context.Background(), 0))

	require.NoError(t, p.Wait(context.Background(), 2))
	assert.False(t, time.Now().Before(origin.Add(60*time.Millisecond)))
}

func TestWait_Cancelled(t *testing.T) {
	p, err := New(testLog(), time.Now(), time.Hour)
	require.NoError(t, err)

	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Wait(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMissed(t *testing.T) {
	origin := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	p, err := New(testLog(), origin, 10*time.Millisecond)
	require.NoError(t, err)

	defer p.Stop()

	tests := []struct {
		name     string
		frame    uint64
		finished time.Time
		want     uint64
	}{
		{name: "on time", frame: 0, finished: origin.Add(4 * time.Millisecond), want: 0},
		{name: "exactly at the boundary", frame: 0, finished: origin.Add(10 * time.Millisecond), want: 0},
		{name: "into the next frame", frame: 0, finished: origin.Add(12 * time.Millisecond), want: 1},
		{name: "two frames late", frame: 3, finished: origin.Add(55 * time.Millisecond), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Missed(tt.frame, tt.finished))
		})
	}
}

func TestStopIdempotent(t *testing.T) {
	p, err := New(testLog(), time.Now(), time.Second)
	require.NoError(t, err)

	assert.NoError(t, p.Stop())
	assert.NoError(t, p.Stop())
}
