//go:build !notiming

package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/frametimer/internal/export"
	httpexport "github.com/ethpandaops/frametimer/internal/export/http"
)

type ndjsonServer struct {
	mu      sync.Mutex
	records []Record
}

func (n *ndjsonServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)

	n.mu.Lock()
	defer n.mu.Unlock()

	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err == nil {
			n.records = append(n.records, rec)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func TestHTTPSink_Export(t *testing.T) {
	srv := &ndjsonServer{}
	server := httptest.NewServer(srv)
	defer server.Close()

	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})

	s, err := NewHTTPSink(testLog(), httpexport.Config{
		Enabled:       true,
		Address:       server.URL,
		Compression:   httpexport.CompressionNone,
		BatchSize:     4,
		FlushInterval: 10 * time.Millisecond,
		MetaRunName:   "nightly",
	}, health)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	defer s.Stop()

	// Nine samples in batches of four leave a short final batch, which
	// must be posted before Export returns.
	require.NoError(t, s.Export(ctx, testRun(t)))

	srv.mu.Lock()
	defer srv.mu.Unlock()

	require.Len(t, srv.records, 9)

	labels := map[string]int{}
	for _, r := range srv.records {
		assert.Equal(t, "nightly", r.RunName)
		labels[r.Label]++
	}

	assert.Equal(t, map[string]int{"physics": 4, "render": 5}, labels)
}

func TestHTTPSink_ExportSmallBatches(t *testing.T) {
	for _, batch := range []int{1, 2, 5, 9, 64} {
		t.Run(strconv.Itoa(batch), func(t *testing.T) {
			srv := &ndjsonServer{}
			server := httptest.NewServer(srv)
			defer server.Close()

			s, err := NewHTTPSink(testLog(), httpexport.Config{
				Enabled:       true,
				Address:       server.URL,
				Compression:   httpexport.CompressionGzip,
				BatchSize:     batch,
				Workers:       2,
				FlushInterval: 5 * time.Millisecond,
			}, nil)
			require.NoError(t, err)

			ctx := context.Background()
			require.NoError(t, s.Start(ctx))
			require.NoError(t, s.Export(ctx, testRun(t)))
			require.NoError(t, s.Stop())

			srv.mu.Lock()
			defer srv.mu.Unlock()

			assert.Len(t, srv.records, 9)
		})
	}
}

func TestHTTPSink_ExportFailsOnRejectedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "disk full", http.StatusInsufficientStorage)
	}))
	defer server.Close()

	s, err := NewHTTPSink(testLog(), httpexport.Config{
		Enabled:       true,
		Address:       server.URL,
		Compression:   httpexport.CompressionNone,
		FlushInterval: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	defer s.Stop()

	err = s.Export(ctx, testRun(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector returned 507")
	assert.Contains(t, err.Error(), "disk full")
}
