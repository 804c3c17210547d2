//go:build linux && !noperf

package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ethpandaops/frametimer/eventtimer"
)

const paranoidPath = "/proc/sys/kernel/perf_event_paranoid"

// Backend keeps one perf event group per logical thread. The group leader
// is read with PERF_FORMAT_GROUP so a single read returns every counter.
type Backend struct {
	log      logrus.FieldLogger
	threadID eventtimer.ThreadIDFunc

	// groups is indexed by logical thread. Each slot is written by
	// Register and read by Read on the owning thread only.
	groups []*group
}

type group struct {
	ident uint64
	fds   []int
	buf   []byte
}

// New creates a Backend for up to threads logical threads.
func New(log logrus.FieldLogger, threads int) *Backend {
	return &Backend{
		log:    log.WithField("component", "perf"),
		groups: make([]*group, threads),
	}
}

// ThreadID returns the kernel thread id of the caller.
func ThreadID() uint64 {
	return uint64(unix.Gettid())
}

func (b *Backend) Init(threadID eventtimer.ThreadIDFunc) error {
	if threadID == nil {
		threadID = ThreadID
	}

	b.threadID = threadID

	raw, err := os.ReadFile(paranoidPath)
	if err != nil {
		return fmt.Errorf("perf events not available: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"paranoid": strings.TrimSpace(string(raw)),
		"threads":  len(b.groups),
	}).Info("Perf counter backend initialized")

	return nil
}

// Register opens the counter group on the calling OS thread, which must
// stay locked to its goroutine. The thread identity is only logged.
func (b *Backend) Register(thread int, counters []string) error {
	if thread < 0 || thread >= len(b.groups) {
		return fmt.Errorf("thread %d out of range [0, %d)", thread, len(b.groups))
	}

	if b.groups[thread] != nil {
		return fmt.Errorf("thread %d already registered", thread)
	}

	if len(counters) == 0 {
		return errors.New("no counters requested")
	}

	g := &group{
		ident: b.threadID(),
		fds:   make([]int, 0, len(counters)),
	}

	leader := -1

	for _, name := range counters {
		attr, err := makeAttr(Counter(name), leader == -1)
		if err != nil {
			g.close()

			return err
		}

		// pid 0 counts the calling thread, any CPU.
		fd, err := unix.PerfEventOpen(attr, 0, -1, leader, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			g.close()

			return fmt.Errorf("perf_event_open(%s, thread=%d): %w", name, thread, err)
		}

		if leader == -1 {
			leader = fd
		}

		g.fds = append(g.fds, fd)
	}

	g.buf = make([]byte, 8*(1+len(g.fds)))

	if err := unix.IoctlSetInt(leader, unix.PERF_EVENT_IOC_RESET, unix.PERF_IOC_FLAG_GROUP); err != nil {
		g.close()

		return fmt.Errorf("resetting counter group: %w", err)
	}

	if err := unix.IoctlSetInt(leader, unix.PERF_EVENT_IOC_ENABLE, unix.PERF_IOC_FLAG_GROUP); err != nil {
		g.close()

		return fmt.Errorf("enabling counter group: %w", err)
	}

	b.groups[thread] = g

	b.log.WithFields(logrus.Fields{
		"thread":   thread,
		"ident":    g.ident,
		"counters": counters,
	}).Debug("Opened counter group")

	return nil
}

func (b *Backend) Read(thread int, dst []int64) error {
	if thread < 0 || thread >= len(b.groups) || b.groups[thread] == nil {
		return fmt.Errorf("thread %d not registered", thread)
	}

	g := b.groups[thread]

	n, err := unix.Read(g.fds[0], g.buf)
	if err != nil {
		return fmt.Errorf("reading counter group: %w", err)
	}

	if n != len(g.buf) {
		return fmt.Errorf("short counter read: %d of %d bytes", n, len(g.buf))
	}

	// Layout: nr, then one value per counter in open order.
	for i := range dst {
		dst[i] = int64(binary.NativeEndian.Uint64(g.buf[8*(i+1):]))
	}

	return nil
}

func (b *Backend) Close() error {
	var errs []error

	for i, g := range b.groups {
		if g == nil {
			continue
		}

		if err := g.close(); err != nil {
			errs = append(errs, fmt.Errorf("thread %d: %w", i, err))
		}

		b.groups[i] = nil
	}

	return errors.Join(errs...)
}

func (g *group) close() error {
	var errs []error

	for _, fd := range g.fds {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, err)
		}
	}

	g.fds = nil

	return errors.Join(errs...)
}

func makeAttr(c Counter, leader bool) (*unix.PerfEventAttr, error) {
	typ, config, ok := eventConfig(c)
	if !ok {
		return nil, fmt.Errorf("unsupported perf counter: %s", c)
	}

	attr := &unix.PerfEventAttr{
		Type:        typ,
		Config:      config,
		Read_format: unix.PERF_FORMAT_GROUP,
		Bits:        unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	attr.Size = uint32(unsafe.Sizeof(*attr))

	// The leader starts disabled and enables the whole group at once.
	if leader {
		attr.Bits |= unix.PerfBitDisabled
	}

	return attr, nil
}

func eventConfig(c Counter) (typ uint32, config uint64, ok bool) {
	switch c {
	case CPUCycles:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES, true
	case CPUInstructions:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS, true
	case CacheReferences:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES, true
	case CacheMisses:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES, true
	case BranchInstructions:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS, true
	case BranchMisses:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES, true
	case RefCPUCycles:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_REF_CPU_CYCLES, true

	case L1DataCacheLoadReferences:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_L1D,
			unix.PERF_COUNT_HW_CACHE_OP_READ,
			unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS,
		), true
	case L1DataCacheLoadMisses:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_L1D,
			unix.PERF_COUNT_HW_CACHE_OP_READ,
			unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
		), true
	case L1InstructionCacheLoadMisses:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_L1I,
			unix.PERF_COUNT_HW_CACHE_OP_READ,
			unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
		), true
	case LLCacheLoadMisses:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_LL,
			unix.PERF_COUNT_HW_CACHE_OP_READ,
			unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
		), true
	case LLCacheStoreMisses:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_LL,
			unix.PERF_COUNT_HW_CACHE_OP_WRITE,
			unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
		), true
	case DataTLBLoadMisses:
		return unix.PERF_TYPE_HW_CACHE, cache(
			unix.PERF_COUNT_HW_CACHE_DTLB,
			unix.PERF_COUNT_HW_CACHE_OP_READ,
			unix.PERF_COUNT_HW_CACHE_RESULT_MISS,
		), true

	case TaskClock:
		return unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_TASK_CLOCK, true
	case PageFaults:
		return unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS, true
	case ContextSwitches:
		return unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES, true
	case CPUMigrations:
		return unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_MIGRATIONS, true
	}

	return 0, 0, false
}

func cache(id, op, result uint32) uint64 {
	return uint64(id | (op << 8) | (result << 16))
}
