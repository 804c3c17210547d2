//go:build !notiming

package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationBucket(t *testing.T) {
	tests := []struct {
		us   int64
		want int
	}{
		{0, 0},
		{9, 0},
		{10, 1},
		{999, 2},
		{1_000, 3},
		{99_999, 4},
		{999_999, 5},
		{1_000_000, 6},
		{60_000_000, 6},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, durationBucket(tt.us), tt.us)
	}
}

func TestEventSummary_Add(t *testing.T) {
	es := newEventSummary(1, "render", 2)

	es.add(5, []int64{10, 1})
	es.add(50, []int64{20, 2})
	es.add(2_000, []int64{30, 3})

	assert.Equal(t, 3, es.Count)
	assert.Equal(t, int64(5), es.MinUs)
	assert.Equal(t, int64(2_000), es.MaxUs)
	assert.InDelta(t, 685.0, es.MeanUs(), 1e-9)
	assert.Equal(t, [numSummaryBuckets]int{1, 1, 0, 1, 0, 0, 0}, es.Histogram)
	assert.Equal(t, []int64{60, 6}, es.CounterSums)
}

func TestSummarize(t *testing.T) {
	run := testRun(t)

	summaries := Summarize(run)
	require.Len(t, summaries, 2)

	assert.Equal(t, "physics", summaries[0].Label)
	assert.Equal(t, 4, summaries[0].Count)
	assert.Equal(t, "render", summaries[1].Label)
	assert.Equal(t, 5, summaries[1].Count)

	total := 0
	for _, n := range summaries[1].Histogram {
		total += n
	}

	assert.Equal(t, 5, total)
}

func TestSummarySink_WritesFile(t *testing.T) {
	run := testRun(t)
	path := filepath.Join(t.TempDir(), "summary.tsv")

	s := NewSummarySink(testLog(), SummaryConfig{Enabled: true, Path: path})
	require.NoError(t, s.Export(context.Background(), run))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"Event\tCount\tMeanUs\tMinUs\tMaxUs\tLt10us\tLt100us\tLt1000us\tLt10000us\tLt100000us\tLt1000000us\tRest",
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "physics\t4\t"))
	assert.True(t, strings.HasPrefix(lines[2], "render\t5\t"))
}
