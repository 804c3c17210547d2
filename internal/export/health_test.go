package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/frametimer/eventtimer"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func startHealth(t *testing.T) *HealthMetrics {
	t.Helper()

	h := NewHealthMetrics(testLog(), HealthConfig{
		Addr: "127.0.0.1:0",
	})

	ctx := context.Background()
	require.NoError(t, h.Start(ctx))

	t.Cleanup(func() {
		h.Stop()
	})

	// Give server a moment to start serving.
	time.Sleep(50 * time.Millisecond)

	return h
}

func TestHealthMetrics_StartStop(t *testing.T) {
	h := startHealth(t)
	assert.True(t, h.running.Load())
	assert.NotEmpty(t, h.Addr())
}

func TestHealthMetrics_DisabledWithoutAddr(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{})

	require.NoError(t, h.Start(context.Background()))
	assert.False(t, h.running.Load())
	assert.NoError(t, h.Stop())
}

func TestHealthMetrics_RecordFrame(t *testing.T) {
	h := startHealth(t)

	names := map[int]string{0: "physics"}

	h.RecordFrame(eventtimer.FrameStats{
		Frame:   0,
		Samples: 12,
		Peak:    []int{3, 1},
		Grown:   []int{0},
		Hints:   []int{6, 1},
	}, names)
	h.RecordFrame(eventtimer.FrameStats{
		Frame:   1,
		Samples: 4,
		Peak:    []int{2, 1},
		Hints:   []int{6, 1},
	}, names)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.FramesAdvanced))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.CurrentFrame))
	assert.Equal(t, 16.0, testutil.ToFloat64(h.SamplesRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.CapacityGrowths.WithLabelValues("physics")))
	assert.Equal(t, 6.0, testutil.ToFloat64(h.CapacityHint.WithLabelValues("physics")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.CapacityHint.WithLabelValues("1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.PeakInstances.WithLabelValues("physics")))

	url := fmt.Sprintf("http://%s/metrics", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bodyStr := string(body)
	assert.Contains(t, bodyStr, "frametimer_frames_advanced_total 2")
	assert.Contains(t, bodyStr, "frametimer_samples_recorded_total 16")
	assert.Contains(t, bodyStr, `frametimer_capacity_hint{event="physics"} 6`)
}

func TestHealthMetrics_HealthzResponse(t *testing.T) {
	h := startHealth(t)

	url := fmt.Sprintf("http://%s/healthz", h.Addr())

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestHealthMetrics_StopIdempotent(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{})

	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop())
}

func TestHealthMetrics_AddrBeforeStart(t *testing.T) {
	h := NewHealthMetrics(testLog(), HealthConfig{
		Addr: ":9999",
	})

	// Before Start, Addr returns the configured address.
	assert.Equal(t, ":9999", h.Addr())
}

func TestEventLabel(t *testing.T) {
	names := map[int]string{0: "render", 1: ""}

	assert.Equal(t, "render", eventLabel(names, 0))
	assert.Equal(t, "1", eventLabel(names, 1))
	assert.Equal(t, "7", eventLabel(nil, 7))
}
