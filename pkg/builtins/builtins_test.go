package builtins

import (
	"bytes"
	"testing"
	"time"
)

func TestPrintWritesSpaceSeparatedArgs(t *testing.T) {
	var buf bytes.Buffer
	tbl := New(&buf, time.Now())
	args := []int32{1, 2, 3}
	tbl.Call(Print, args)
	if got, want := buf.String(), " 1 2 3"; got != want {
		t.Fatalf("print output = %q, want %q", got, want)
	}
}

func TestOutputFormatsSingleValue(t *testing.T) {
	var buf bytes.Buffer
	tbl := New(&buf, time.Now())
	tbl.Call(Output, []int32{42})
	if got, want := buf.String(), "OUTPUT= 42"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestGetTickAdvancesWithStart(t *testing.T) {
	tbl := New(nil, time.Now().Add(-10*time.Millisecond))
	args := []int32{0}
	tbl.Call(GetTick, args)
	if args[0] < 5 {
		t.Fatalf("tick = %d, want at least 5ms elapsed", args[0])
	}
}

func TestStubsReturnFixedValues(t *testing.T) {
	tbl := New(nil, time.Now())

	entry := []int32{-1}
	tbl.Call(GetEntryTimer, entry)
	if entry[0] != 0 {
		t.Fatalf("GetEntryTimer = %d, want 0", entry[0])
	}

	state := []int32{-1}
	tbl.Call(SectionState, state)
	if state[0] != 2 {
		t.Fatalf("SectionState = %d, want 2", state[0])
	}
}

func TestLenMatchesBuiltinCount(t *testing.T) {
	tbl := New(nil, time.Now())
	if tbl.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", tbl.Len())
	}
}
