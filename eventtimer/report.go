package eventtimer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Tab is the default report column separator.
const Tab = '\t'

// ReportOptions controls WriteReport.
type ReportOptions struct {
	// Names maps event kinds to labels. Nil prints the numeric kind.
	Names map[int]string
	// Separator delimits columns. Zero selects Tab.
	Separator byte
}

// Row is one flattened sample.
type Row struct {
	Thread  int
	Frame   int
	Event   int
	Label   string
	StartUs int64
	StopUs  int64
	// Deltas holds stop minus start per tracked counter, in the order of
	// Store.Counters.
	Deltas []int64
}

// Header returns the report column names.
func (s *Store) Header() []string {
	cols := []string{"Thread", "Frame", "Event", "uStart", "uStop"}

	return append(cols, s.counters...)
}

// PrintTimes writes the report to standard output.
func (s *Store) PrintTimes(names map[int]string, sep byte) error {
	return s.WriteReport(os.Stdout, ReportOptions{Names: names, Separator: sep})
}

// WriteReport writes a header row followed by one row per sample, ordered by
// thread, event kind, frame, then instance. Offsets are integer
// microseconds from the store's epoch.
func (s *Store) WriteReport(w io.Writer, opts ReportOptions) error {
	if !Enabled {
		return nil
	}

	sep := opts.Separator
	if sep == 0 {
		sep = Tab
	}

	bw := bufio.NewWriter(w)

	for i, col := range s.Header() {
		if i > 0 {
			bw.WriteByte(sep)
		}

		bw.WriteString(col)
	}

	bw.WriteByte('\n')

	var line []byte

	s.each(func(thread, event, frame int, smp *Sample) {
		line = line[:0]
		line = strconv.AppendInt(line, int64(thread), 10)
		line = append(line, sep)
		line = strconv.AppendInt(line, int64(frame), 10)
		line = append(line, sep)
		line = append(line, label(opts.Names, event)...)
		line = append(line, sep)
		line = strconv.AppendInt(line, smp.Start.Microseconds(), 10)
		line = append(line, sep)
		line = strconv.AppendInt(line, smp.Stop.Microseconds(), 10)

		for i := range s.counters {
			line = append(line, sep)
			line = strconv.AppendInt(line, smp.Delta(i), 10)
		}

		line = append(line, '\n')
		bw.Write(line)
	})

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// Rows flattens every sample in report order.
func (s *Store) Rows(names map[int]string) []Row {
	if !Enabled {
		return nil
	}

	rows := make([]Row, 0, s.Len())

	s.each(func(thread, event, frame int, smp *Sample) {
		row := Row{
			Thread:  thread,
			Frame:   frame,
			Event:   event,
			Label:   label(names, event),
			StartUs: smp.Start.Microseconds(),
			StopUs:  smp.Stop.Microseconds(),
		}

		if len(s.counters) > 0 {
			row.Deltas = make([]int64, len(s.counters))
			for i := range row.Deltas {
				row.Deltas[i] = smp.Delta(i)
			}
		}

		rows = append(rows, row)
	})

	return rows
}

// Len returns the total number of samples in the store.
func (s *Store) Len() int {
	n := 0

	for _, ts := range s.threads {
		for _, c := range ts.cells {
			n += len(c)
		}
	}

	return n
}

func (s *Store) each(fn func(thread, event, frame int, smp *Sample)) {
	for t, ts := range s.threads {
		for e := 0; e < s.events; e++ {
			for f := 0; f < s.frames; f++ {
				cell := ts.cells[e*s.frames+f]
				for i := range cell {
					fn(t, e, f, &cell[i])
				}
			}
		}
	}
}

func label(names map[int]string, event int) string {
	if names == nil {
		return strconv.Itoa(event)
	}

	return names[event]
}
