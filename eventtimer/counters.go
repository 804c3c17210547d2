package eventtimer

// MaxCounters is the number of hardware counter slots carried by every
// Sample.
const MaxCounters = 4

// DefaultCounters are tracked when a backend is configured without an
// explicit counter list.
var DefaultCounters = []string{
	"CPUCycles",
	"CPUInstructions",
	"L1DataCacheLoadMisses",
}

// ThreadIDFunc returns an opaque identity for the calling OS thread. It is
// only used by counter backends to tell threads apart and is unrelated to
// the logical thread indices passed to Start and Stop.
type ThreadIDFunc func() uint64

// CounterBackend reads cumulative hardware counters per logical thread.
type CounterBackend interface {
	// Init prepares the backend. It is called once from New.
	Init(threadID ThreadIDFunc) error
	// Register opens and starts the named counters for the calling OS
	// thread under the given logical index.
	Register(thread int, counters []string) error
	// Read copies the current cumulative counter values of a registered
	// thread into dst, in registration order.
	Read(thread int, dst []int64) error
	// Close releases every counter opened by Register.
	Close() error
}
