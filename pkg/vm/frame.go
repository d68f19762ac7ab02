package vm

// CurrentFunction returns the function table index of the currently
// executing function, or -1 when main is executing (call stack empty).
// This is a pure read: it must never mutate vm.
func (vm *VM) CurrentFunction() int {
	if vm.CallTop > 0 {
		return int(vm.CallStack[vm.CallTop-1].FunctionIndex)
	}
	return -1
}

// CurrentVariablesStart returns the current frame's locals-window base
// in the data stack, or 0 in main. Pure read.
func (vm *VM) CurrentVariablesStart() uint8 {
	if vm.CallTop > 0 {
		return vm.CallStack[vm.CallTop-1].VariablesStart
	}
	return 0
}

// currentLocalsSize returns how many local slots (arguments + locals)
// LDV/STV may address in the current frame: main_variables_count in
// main, or arguments_count+variables_count in a function.
func (vm *VM) currentLocalsSize() (uint8, Errno) {
	f := vm.CurrentFunction()
	if f < 0 {
		if vm.Exe == nil {
			return 0, ExeNoFunction
		}
		return vm.Exe.MainVariablesCount, NoError
	}
	if errno := vm.validateFunctionIndex(int32(f)); errno != NoError {
		return 0, errno
	}
	fun := vm.Exe.Functions[f]
	return fun.ArgumentsCount + fun.VariablesCount, NoError
}

// validateFunctionIndex reports ExeNoFunction if index is out of range
// of the bound executable's function table.
func (vm *VM) validateFunctionIndex(index int32) Errno {
	if index < 0 || int(index) >= int(vm.Exe.FunctionsCount) {
		return ExeNoFunction
	}
	return NoError
}
