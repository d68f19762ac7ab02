// Package vm implements the PVM runtime: a fixed-capacity data stack
// and call stack, a program counter, a cooperative sleep timer, and the
// single-step decode/execute loop. It is deliberately allocation-free
// after construction — every field is a fixed-size array, matching the
// "no dynamic memory allocation at runtime" non-goal.
package vm

import (
	"pvm/pkg/exe"
	"pvm/pkg/host"
)

// DataStackCap and CallStackCap are the default capacities from
// original_source/pvm.h (PVM_DATA_STACK_SIZE, PVM_CALL_STACK_SIZE).
// They are compile-time constants here, as the original documents them
// to logically be.
const (
	DataStackCap = 30
	CallStackCap = 10
)

// OverflowSentinel is the 4-bit immediate value (0x0F) that signals
// "the true parameter is on the data stack" for CAL/JMP/LDV/STV.
const OverflowSentinel int32 = 0x0F

// SupportedVersion re-exports exe.SupportedVersion for callers that
// only import pkg/vm.
const SupportedVersion = exe.SupportedVersion

// CallFrame is one call-stack entry: the frame's return address, the
// start of its locals window in the data stack, how many arguments it
// was actually called with (relevant for variadic functions), and
// which function table entry it is.
type CallFrame struct {
	ReturnAddress  uint16
	VariablesStart uint8
	ArgumentsCount uint8
	FunctionIndex  uint8
}

// VM is one interpreter instance. Binding and Exe persist across
// Reset; every other field is runtime state that Reset zeroes.
type VM struct {
	Timer   uint32
	Timeout uint32

	DataStack [DataStackCap]int32
	DataTop   uint8

	CallStack [CallStackCap]CallFrame
	CallTop   uint8

	PC uint16

	// Binding and Exe are the persistent region: preserved across Reset.
	Binding uint8
	Exe     *exe.Image

	// Host collaborators. Clock and Builtins must be set before Step is
	// called if the program uses SLP or CAL to a built-in; Tracer may
	// be left nil to disable tracing.
	Clock    host.Clock
	Builtins host.BuiltinTable
	Tracer   host.Tracer
}

// Reset clears every runtime field except the persistent region
// (Binding, Exe, and the host collaborators, which are not part of the
// C struct's persist region but have no runtime-state meaning of their
// own). After Reset, DataTop equals Exe.MainVariablesCount, so main's
// locals are zero-initialised, matching pvm_reset exactly.
func (vm *VM) Reset() {
	vm.Timer = 0
	vm.Timeout = 0
	vm.DataStack = [DataStackCap]int32{}
	vm.DataTop = 0
	vm.CallStack = [CallStackCap]CallFrame{}
	vm.CallTop = 0
	vm.PC = 0
	if vm.Exe != nil {
		vm.DataTop = vm.Exe.MainVariablesCount
	}
}
