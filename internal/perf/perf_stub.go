//go:build !linux || noperf

package perf

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/frametimer/eventtimer"
)

var errUnsupported = errors.New("hardware counters require Linux perf events")

// Backend is a placeholder that fails on Init. This build has no
// perf_event_open support.
type Backend struct {
	log logrus.FieldLogger
}

// New creates a Backend that reports hardware counters as unsupported.
func New(log logrus.FieldLogger, _ int) *Backend {
	return &Backend{log: log.WithField("component", "perf")}
}

// ThreadID returns 0; there is no thread identity without perf support.
func ThreadID() uint64 {
	return 0
}

func (b *Backend) Init(_ eventtimer.ThreadIDFunc) error {
	return errUnsupported
}

func (b *Backend) Register(_ int, _ []string) error {
	return errUnsupported
}

func (b *Backend) Read(_ int, _ []int64) error {
	return errUnsupported
}

func (b *Backend) Close() error {
	return nil
}
