package vm

// Step decodes and executes exactly one opcode, exactly as pvm_op does:
//   1. If a cooperative sleep is active and hasn't elapsed, return
//      NoError without doing anything else.
//   2. If pc is past the end of code, return PcOverrun.
//   3. Fetch code[pc], advance pc, and dispatch.
// Step performs no automatic recovery: the caller decides what to do
// with a non-NoError result, including a terminal MainReturn.
func (vm *VM) Step() Errno {
	if vm.Timer != 0 {
		// Unsigned subtraction tolerates up to ~49 days of clock
		// wraparound (§9) — never compare timestamps directly.
		elapsed := vm.Clock.NowMs() - vm.Timer
		if elapsed < vm.Timeout {
			return NoError
		}
		vm.Timer = 0
	}

	if int(vm.PC) >= len(vm.Exe.Code) {
		return PcOverrun
	}

	if vm.Tracer != nil {
		vm.Tracer.Begin()
	}

	op := vm.Exe.Code[vm.PC]
	vm.PC++

	errno := vm.execute(op)

	if vm.Tracer != nil {
		if errno == NoError {
			vm.Tracer.PCChange(vm.PC)
		}
		vm.Tracer.End()
	}

	return errno
}

// execute dispatches one already-fetched opcode. vm.PC has already been
// advanced past the opcode byte by the time this runs, matching the
// original's fetch-then-increment ordering — branch and call targets
// are computed relative to that already-advanced pc.
func (vm *VM) execute(op byte) Errno {
	switch {
	case op&0x80 == 0:
		// 0xxxxxxx: PSH imm7
		return vm.push(int32(op & 0x7F))

	case op&0xE0 == 0x80:
		// 100xxxxx: PSC imm5
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		return vm.push((v << 5) | int32(op&0x1F))

	case op&0xF0 == 0xA0:
		// 1010ssss: arithmetic/compare
		return vm.execArithCompare(op & 0x0F)

	case op&0xF0 == 0xB0:
		// 1011xxxx: unary / stack-maint / LDC / JMB / SLP / RET
		return vm.execUnary(op & 0x0F)

	case op&0xF0 == 0xC0:
		return vm.execJmp(op)

	case op&0xF0 == 0xD0:
		return vm.execCal(op)

	case op&0xF0 == 0xE0:
		return vm.execLdv(op)

	case op&0xF0 == 0xF0:
		return vm.execStv(op)
	}
	// unreachable: the cases above exhaust all 256 byte values
	return NoError
}

// execArithCompare handles the 1010ssss class: two pops in all cases,
// the first popped bound to x and the second to y below. This mirrors
// original_source/pvm.c's `value`/`second` pair literally (pop value,
// then pop second), which is what §8's algebraic laws ("PSH a; PSH b;
// SUB = b - a") actually require once pushed/popped order is untangled
// — with a pushed first (bottom) and b pushed second (top), the top is
// popped first, so x here is b and y is a, and SUB computing x-y
// yields b-a as specified.
func (vm *VM) execArithCompare(sub byte) Errno {
	x, errno := vm.pop()
	if errno != NoError {
		return errno
	}
	y, errno := vm.pop()
	if errno != NoError {
		return errno
	}

	switch {
	case sub <= 0x01:
		// BZE (0000) / BNZ (0001): x=disp, y=cond
		disp, cond := x, y
		var take bool
		if sub == 0x00 {
			take = cond == 0
		} else {
			take = cond != 0
		}
		if take {
			vm.branch(disp)
		}
		return NoError

	case sub <= 0x07:
		// BEQ/BNE/BGT/BLT (0010-0101), BGE/BLE (0110/0111): x=disp
		disp := x
		z, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		cmp := y - z
		var take bool
		switch sub {
		case 0x02:
			take = cmp == 0
		case 0x03:
			take = cmp != 0
		case 0x04:
			take = cmp > 0
		case 0x05:
			take = cmp < 0
		case 0x06:
			take = cmp >= 0
		case 0x07:
			take = cmp <= 0
		}
		if take {
			vm.branch(disp)
		}
		return NoError

	case sub <= 0x0B:
		// ADD/SUB/MUL/DIV
		var result int32
		switch sub {
		case 0x08:
			result = x + y
		case 0x09:
			result = x - y
		case 0x0A:
			result = x * y
		case 0x0B:
			result = x / y // truncates toward zero, as Go's / does for ints
		}
		return vm.push(result)

	default:
		// PWR (1100), AND/IOR/XOR (1101-1111)
		var result int32
		switch sub {
		case 0x0C:
			// PWR: base x, exponent y; non-positive exponent is 1.
			if y <= 0 {
				result = 1
			} else {
				result = x
				for i := int32(1); i < y; i++ {
					result *= x
				}
			}
		case 0x0D:
			result = x & y
		case 0x0E:
			result = x | y
		case 0x0F:
			result = x ^ y
		}
		return vm.push(result)
	}
}

// branch applies the +1 bias branches always use (never the -2
// adjustment JMP/JMB apply for negative displacements — §9(b)).
func (vm *VM) branch(disp int32) {
	vm.PC = uint16(int32(vm.PC) + disp + 1)
}

// execUnary handles the 1011xxxx class.
func (vm *VM) execUnary(sub byte) Errno {
	switch {
	case sub <= 0x03:
		// SKZ/SNZ/SKN/SNN: reserved, no-op.
		return NoError

	case sub == 0x04:
		// SLP: pop ms, start cooperative sleep.
		ms, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		vm.Timer = vm.Clock.NowMs()
		vm.Timeout = uint32(ms)
		if vm.Tracer != nil {
			vm.Tracer.Sleep(vm.Timeout)
		}
		return NoError

	case sub == 0x05:
		return vm.execRet()

	case sub == 0x06:
		// LDC: pop index, push constants[index].
		index, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		if index < 0 || int(index) >= int(vm.Exe.ConstantsCount) {
			return NoConstant
		}
		value := vm.Exe.Constants[index]
		if vm.Tracer != nil {
			vm.Tracer.Load("constant", uint8(index), value)
		}
		return vm.push(value)

	case sub == 0x07:
		// JMB: pop disp, jump by -disp (defined as JMP with the negated value).
		disp, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		vm.jump(-disp)
		return NoError

	case sub == 0x08:
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		return vm.push(-v)

	case sub == 0x09:
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		return vm.push(^v)

	case sub == 0x0A:
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		return vm.push(v + 1)

	case sub == 0x0B:
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		return vm.push(v - 1)

	default:
		// POP: discard (sub & 3) + 1 values.
		count := int(sub&0x03) + 1
		if vm.Tracer != nil {
			vm.Tracer.Pop(count)
		}
		return vm.popN(count)
	}
}

// execRet implements RET: return from the current function, or report
// MainReturn when there is no caller frame.
func (vm *VM) execRet() Errno {
	f := vm.CurrentFunction()
	if f < 0 {
		return MainReturn
	}
	fun := vm.Exe.Functions[f]
	localsBase := vm.CurrentVariablesStart()
	r := fun.ReturnsCount
	returnsBase := vm.DataTop - r

	frame := vm.CallStack[vm.CallTop-1]
	vm.CallTop--

	if localsBase+frame.ArgumentsCount+fun.VariablesCount != returnsBase {
		return DataStackSmashed
	}

	src, dst := returnsBase, localsBase
	for i := uint8(0); i < r; i++ {
		vm.DataStack[dst] = vm.DataStack[src]
		dst++
		src++
	}
	vm.DataTop = dst
	vm.PC = frame.ReturnAddress
	if vm.Tracer != nil {
		vm.Tracer.Return(vm.PC, f, int(frame.ArgumentsCount))
	}
	return NoError
}

// jump applies JMP's displacement rule, including the extra -2 bias
// for negative displacements (§9(b), reproduced exactly, not "fixed").
func (vm *VM) jump(disp int32) {
	if disp < 0 {
		disp -= 2
	}
	vm.PC = uint16(int32(vm.PC) + disp + 1)
}

// resolveParam extracts the 4-bit immediate shared by CAL/JMP/LDV/STV,
// popping and bias-correcting from the data stack on overflow
// (§4.E / original_source/pvm.c's PVM_INTEGRAL_OP_MASK handling).
func (vm *VM) resolveParam(op byte) (int32, Errno) {
	param := int32(op & 0x0F)
	if param == OverflowSentinel {
		v, errno := vm.pop()
		if errno != NoError {
			return 0, errno
		}
		param = v
		if param > 0 {
			param += OverflowSentinel
		}
	}
	return param, NoError
}

func (vm *VM) execJmp(op byte) Errno {
	param, errno := vm.resolveParam(op)
	if errno != NoError {
		return errno
	}
	vm.jump(param)
	return NoError
}

func (vm *VM) execCal(op byte) Errno {
	param, errno := vm.resolveParam(op)
	if errno != NoError {
		return errno
	}
	if errno := vm.validateFunctionIndex(param); errno != NoError {
		return errno
	}
	fun := vm.Exe.Functions[param]

	argsCount := int(fun.ArgumentsCount)
	if fun.IsVariadic {
		v, errno := vm.pop()
		if errno != NoError {
			return errno
		}
		if v < 0 || argsCount+int(v) > 0xFF {
			return VariadicSize
		}
		argsCount += int(v)
	}

	if vm.Tracer != nil {
		vm.Tracer.Call(int(param), argsCount)
	}

	if int(vm.DataTop) < argsCount {
		return ArgOutOfStack
	}
	stackRest := DataStackCap - int(vm.DataTop)
	if stackRest < int(fun.VariablesCount) {
		return VarOutOfStack
	}
	if stackRest < int(fun.ReturnsCount) {
		return ReturnOutOfStack
	}

	callStart := vm.DataTop - uint8(argsCount)

	if fun.IsBuiltIn {
		if int(fun.Address) >= vm.Builtins.Len() {
			return BuiltinNoFunction
		}
		// The region spans the arguments, or the return slots when the
		// function returns more values than it takes.
		span := argsCount
		if int(fun.ReturnsCount) > span {
			span = int(fun.ReturnsCount)
		}
		vm.Builtins.Call(fun.Address, vm.DataStack[int(callStart):int(callStart)+span])
		vm.DataTop = callStart + fun.ReturnsCount
		return NoError
	}

	if vm.CallTop >= CallStackCap {
		return CallStackOverflow
	}
	vm.CallStack[vm.CallTop] = CallFrame{
		ReturnAddress:  vm.PC,
		VariablesStart: callStart,
		ArgumentsCount: uint8(argsCount),
		FunctionIndex:  uint8(param),
	}
	vm.CallTop++
	for i := uint8(0); i < fun.VariablesCount; i++ {
		if errno := vm.push(0); errno != NoError {
			return errno
		}
	}
	vm.PC = fun.Address
	return NoError
}

func (vm *VM) execLdv(op byte) Errno {
	param, errno := vm.resolveParam(op)
	if errno != NoError {
		return errno
	}
	localsSize, errno := vm.currentLocalsSize()
	if errno != NoError {
		return errno
	}
	if param < 0 || param >= int32(localsSize) {
		return NoVariable
	}
	index := int(param) + int(vm.CurrentVariablesStart())
	if index >= DataStackCap {
		return VarOutOfStack
	}
	if vm.Tracer != nil {
		vm.Tracer.Load("variable", uint8(param), vm.DataStack[index])
	}
	return vm.push(vm.DataStack[index])
}

func (vm *VM) execStv(op byte) Errno {
	param, errno := vm.resolveParam(op)
	if errno != NoError {
		return errno
	}
	localsSize, errno := vm.currentLocalsSize()
	if errno != NoError {
		return errno
	}
	if param < 0 || param >= int32(localsSize) {
		return NoVariable
	}
	index := int(param) + int(vm.CurrentVariablesStart())
	if index >= DataStackCap {
		return VarOutOfStack
	}
	v, errno := vm.pop()
	if errno != NoError {
		return errno
	}
	if vm.Tracer != nil {
		vm.Tracer.Store("variable", uint8(param), v)
	}
	vm.DataStack[index] = v
	return NoError
}
