package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/ethwallclock"
	"github.com/sirupsen/logrus"
)

// Pacer spaces frames at a fixed interval from an origin, so a simulated
// main loop runs at a steady frame rate. Frame N occupies the wall clock
// slot N.
type Pacer interface {
	// FrameStartTime returns the scheduled start of the given frame.
	FrameStartTime(frame uint64) time.Time
	// Wait blocks until the given frame is due.
	Wait(ctx context.Context, frame uint64) error
	// Overran reports whether the given frame finished after its slot
	// ended.
	Overran(frame uint64, finished time.Time) bool
	// Missed returns how many later frame starts passed before the given
	// frame finished.
	Missed(frame uint64, finished time.Time) uint64
	// Stop releases the wall clock.
	Stop() error
}

// framesPerEpoch has no meaning for frame pacing but the wall clock
// requires a non-zero epoch length.
const framesPerEpoch = 1

type pacer struct {
	log       logrus.FieldLogger
	wallclock *ethwallclock.EthereumBeaconChain
}

// New creates a Pacer whose frame 0 starts at origin.
func New(
	log logrus.FieldLogger,
	origin time.Time,
	interval time.Duration,
) (Pacer, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}

	log = log.WithField("component", "pacer")

	log.WithFields(logrus.Fields{
		"origin":   origin,
		"interval": interval,
	}).Info("Frame pacer started")

	return &pacer{
		log:       log,
		wallclock: ethwallclock.NewEthereumBeaconChain(origin, interval, framesPerEpoch),
	}, nil
}

func (p *pacer) window(frame uint64) *ethwallclock.TimeWindow {
	slot := p.wallclock.Slots().FromNumber(frame)

	return slot.TimeWindow()
}

func (p *pacer) FrameStartTime(frame uint64) time.Time {
	return p.window(frame).Start()
}

func (p *pacer) Wait(ctx context.Context, frame uint64) error {
	d := p.window(frame).StartsIn()
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *pacer) Overran(frame uint64, finished time.Time) bool {
	return finished.After(p.window(frame).End())
}

func (p *pacer) Missed(frame uint64, finished time.Time) uint64 {
	if !p.Overran(frame, finished) {
		return 0
	}

	slot := p.wallclock.Slots().FromTime(finished)

	return slot.Number() - frame
}

func (p *pacer) Stop() error {
	p.wallclock.Stop()

	return nil
}
