// Package perf reads hardware and software performance counters per OS
// thread through perf_event_open. It implements eventtimer.CounterBackend.
package perf

import (
	"fmt"

	"github.com/ethpandaops/frametimer/eventtimer"
)

// Counter names a perf event. See man 2 perf_event_open.
type Counter string

const (
	// Hardware events
	CPUCycles          Counter = "CPUCycles"
	CPUInstructions    Counter = "CPUInstructions"
	CacheReferences    Counter = "CacheReferences"
	CacheMisses        Counter = "CacheMisses"
	BranchInstructions Counter = "BranchInstructions"
	BranchMisses       Counter = "BranchMisses"
	RefCPUCycles       Counter = "RefCPUCycles"

	// Hardware cache events
	L1DataCacheLoadReferences    Counter = "L1DataCacheLoadReferences"
	L1DataCacheLoadMisses        Counter = "L1DataCacheLoadMisses"
	L1InstructionCacheLoadMisses Counter = "L1InstructionCacheLoadMisses"
	LLCacheLoadMisses            Counter = "LLCacheLoadMisses"
	LLCacheStoreMisses           Counter = "LLCacheStoreMisses"
	DataTLBLoadMisses            Counter = "DataTLBLoadMisses"

	// Software events
	TaskClock       Counter = "TaskClock"
	PageFaults      Counter = "PageFaults"
	ContextSwitches Counter = "ContextSwitches"
	CPUMigrations   Counter = "CPUMigrations"
)

// Known lists every counter this package can open.
var Known = []Counter{
	CPUCycles,
	CPUInstructions,
	CacheReferences,
	CacheMisses,
	BranchInstructions,
	BranchMisses,
	RefCPUCycles,
	L1DataCacheLoadReferences,
	L1DataCacheLoadMisses,
	L1InstructionCacheLoadMisses,
	LLCacheLoadMisses,
	LLCacheStoreMisses,
	DataTLBLoadMisses,
	TaskClock,
	PageFaults,
	ContextSwitches,
	CPUMigrations,
}

var _ eventtimer.CounterBackend = (*Backend)(nil)

// Validate reports the first name that is not a known counter.
func Validate(names []string) error {
	for _, name := range names {
		if !isKnown(Counter(name)) {
			return fmt.Errorf("unsupported perf counter: %s", name)
		}
	}

	return nil
}

func isKnown(c Counter) bool {
	for _, k := range Known {
		if k == c {
			return true
		}
	}

	return false
}
