// Package builtins provides a reference host.BuiltinTable: the same
// ten functions, in the same order, as original_source/builtins.c's
// pvm_builtins table, so a program assembled against that table's
// indices runs unchanged against this one.
package builtins

import (
	"fmt"
	"io"
	"time"

	"pvm/pkg/host"
)

// Indices into Default, matching pvm_builtins[] exactly.
const (
	Print = iota
	Output
	GetTick
	GetTime
	GetRealtime
	GetDate
	GetWeekday
	GetEntryTimer
	GetExitTimer
	SectionState
)

// Table wraps host.Builtins with the clock and writer its time- and
// print-related entries need; it implements host.BuiltinTable.
type Table struct {
	Out   io.Writer
	Start time.Time
	fns   host.Builtins
}

// New builds the default builtin table. out receives pvm_builtin_print
// and pvm_output's text, matching the C reference's stdout writes.
// start is the instant get_tick/get_time measure elapsed time from.
func New(out io.Writer, start time.Time) *Table {
	t := &Table{Out: out, Start: start}
	t.fns = host.Builtins{
		Print:         t.print,
		Output:        t.output,
		GetTick:       t.getTick,
		GetTime:       t.getTime,
		GetRealtime:   t.getRealtime,
		GetDate:       t.getDate,
		GetWeekday:    t.getWeekday,
		GetEntryTimer: constZero,
		GetExitTimer:  constZero,
		SectionState:  constTwo,
	}
	return t
}

func (t *Table) Len() int { return t.fns.Len() }

func (t *Table) Call(address uint16, args []int32) { t.fns.Call(address, args) }

// print writes every argument space-separated, matching
// pvm_builtin_print's loop (the samples/ variant, without the debug
// colon/newline framing that only matters under a terminal PVM_DEBUG
// build).
func (t *Table) print(args []int32) {
	for _, a := range args {
		fmt.Fprintf(t.Out, " %d", a)
	}
}

// output writes its single argument as "OUTPUT= <value>", matching
// pvm_output.
func (t *Table) output(args []int32) {
	if len(args) == 0 {
		return
	}
	fmt.Fprintf(t.Out, "OUTPUT= %d", args[0])
}

// getTick returns milliseconds elapsed since Start, standing in for
// now_ms()'s CLOCK_MONOTONIC reading.
func (t *Table) getTick(args []int32) {
	if len(args) == 0 {
		return
	}
	args[0] = int32(time.Since(t.Start).Milliseconds())
}

// getTime returns whole seconds elapsed since Start, matching
// pvm_get_time's tv_sec.
func (t *Table) getTime(args []int32) {
	if len(args) == 0 {
		return
	}
	args[0] = int32(time.Since(t.Start).Seconds())
}

// getRealtime fills hour, minute, second from the local wall clock,
// matching pvm_get_realtime's three-argument layout exactly.
func (t *Table) getRealtime(args []int32) {
	now := time.Now()
	set(args, 0, int32(now.Hour()))
	set(args, 1, int32(now.Minute()))
	set(args, 2, int32(now.Second()))
}

// getDate fills year, month, day-of-month, matching pvm_get_date.
func (t *Table) getDate(args []int32) {
	now := time.Now()
	set(args, 0, int32(now.Year()))
	set(args, 1, int32(now.Month()))
	set(args, 2, int32(now.Day()))
}

// getWeekday returns the day of week as 0=Sunday..6=Saturday, matching
// struct tm's tm_wday and Go's time.Weekday numbering, which agree.
func (t *Table) getWeekday(args []int32) {
	if len(args) == 0 {
		return
	}
	args[0] = int32(time.Now().Weekday())
}

func set(args []int32, i int, v int32) {
	if i < len(args) {
		args[i] = v
	}
}

func constZero(args []int32) { set(args, 0, 0) }
func constTwo(args []int32)  { set(args, 0, 2) }
