package asm

import (
	"fmt"
	"math/bits"

	"pvm/pkg/exe"
)

// Assemble parses PVM assembly source and encodes it into a complete
// image byte sequence, ready for exe.Parse or a VM's Exe field.
func Assemble(source string) ([]byte, error) {
	prog, err := Parse(source)
	if err != nil {
		return nil, fmt.Errorf("asm: parse: %w", err)
	}
	return assemble(prog)
}

type body struct {
	funcIndex int // -1 for main
	lines     []*Line
}

func assemble(prog *Program) ([]byte, error) {
	funcIndex := make(map[string]int, len(prog.Functions))
	for i, f := range prog.Functions {
		funcIndex[f.Name] = i
	}

	bodies := []body{{funcIndex: -1, lines: prog.Main}}
	functions := make([]exe.Function, len(prog.Functions))
	for i, f := range prog.Functions {
		functions[i] = exe.Function{
			ArgumentsCount: uint8(f.Args),
			VariablesCount: uint8(f.Vars),
			ReturnsCount:   uint8(f.Returns),
			IsVariadic:     f.Variadic,
		}
		if f.Impl.Builtin != nil {
			functions[i].IsBuiltIn = true
			functions[i].Address = uint16(*f.Impl.Builtin)
			continue
		}
		bodies = append(bodies, body{funcIndex: i, lines: f.Impl.Body})
	}

	labelAddr := make([]map[string]int, len(bodies))
	offset := 0
	for bi, b := range bodies {
		labelAddr[bi] = make(map[string]int)
		if b.funcIndex >= 0 {
			functions[b.funcIndex].Address = uint16(offset)
		}
		for _, line := range b.lines {
			if line.Label != nil {
				labelAddr[bi][labelName(*line.Label)] = offset
				continue
			}
			n, err := sizeOfStatement(line.Stmt, funcIndex)
			if err != nil {
				return nil, err
			}
			offset += n
		}
	}

	code := make([]byte, 0, offset)
	for bi, b := range bodies {
		var err error
		code, err = emitBody(code, b.lines, labelAddr[bi], funcIndex, len(code))
		if err != nil {
			return nil, err
		}
	}

	constants := make([]int32, len(prog.Header.Constants))
	for i, c := range prog.Header.Constants {
		constants[i] = int32(c)
	}

	return exe.Encode(uint8(prog.Header.MainVariables), functions, constants, code)
}

func labelName(raw string) string {
	// Label tokens include the trailing colon ("loop:"); strip it.
	if n := len(raw); n > 0 && raw[n-1] == ':' {
		return raw[:n-1]
	}
	return raw
}

// sizeOfStatement computes an instruction's byte length without
// resolving any label, since every size here depends only on the
// statement itself (see emitBody's doc comment for why that holds).
func sizeOfStatement(s *Statement, funcIndex map[string]int) (int, error) {
	info, ok := mnemonics[s.Mnemonic]
	if !ok {
		return 0, fmt.Errorf("asm: unknown mnemonic %q", s.Mnemonic)
	}
	switch info.kind {
	case kindPsh:
		if s.IntArg == nil {
			return 0, fmt.Errorf("asm: psh requires an integer operand")
		}
		return len(encodeImmediate(int32(*s.IntArg))), nil

	case kindNoOperand:
		if s.IntArg != nil || s.NameArg != nil {
			return 0, fmt.Errorf("asm: %s takes no operand", s.Mnemonic)
		}
		return 1, nil

	case kindBranch:
		switch {
		case s.NameArg != nil:
			// Fixed-width push so layout doesn't depend on the
			// resolved displacement's magnitude (see emitBody).
			return fixedImmediateWidth + 1, nil
		case s.IntArg != nil:
			return len(encodeImmediate(int32(*s.IntArg))) + 1, nil
		default:
			return 1, nil
		}

	case kindLdc:
		if s.IntArg == nil {
			return 0, fmt.Errorf("asm: ldc requires a constant index")
		}
		return len(encodeImmediate(int32(*s.IntArg))) + 1, nil

	case kindJmb:
		if s.NameArg != nil {
			return 0, fmt.Errorf("asm: jmb takes a numeric displacement, not a label (%q)", *s.NameArg)
		}
		if s.IntArg != nil {
			return len(encodeImmediate(int32(*s.IntArg))) + 1, nil
		}
		return 1, nil

	case kindPop:
		if s.IntArg == nil || *s.IntArg < 1 || *s.IntArg > 4 {
			return 0, fmt.Errorf("asm: pop requires a count between 1 and 4")
		}
		return 1, nil

	case kindJmp:
		if err := requireOperand(s, "jmp"); err != nil {
			return 0, err
		}
		if s.NameArg != nil {
			if _, isFunc := funcIndex[*s.NameArg]; isFunc {
				return 0, fmt.Errorf("asm: jmp targets a label, not a function (%q is a function)", *s.NameArg)
			}
			return fixedImmediateWidth + 1, nil
		}
		return paramSize(mustInt(s))

	case kindCal:
		if err := requireOperand(s, "cal"); err != nil {
			return 0, err
		}
		if s.NameArg != nil {
			idx, ok := funcIndex[*s.NameArg]
			if !ok {
				return 0, fmt.Errorf("asm: cal references unknown function %q", *s.NameArg)
			}
			return paramSize(int64(idx))
		}
		return paramSize(mustInt(s))

	case kindLdv, kindStv:
		if err := requireOperand(s, s.Mnemonic); err != nil {
			return 0, err
		}
		if s.NameArg != nil {
			return 0, fmt.Errorf("asm: %s takes a numeric index, not a name", s.Mnemonic)
		}
		return paramSize(mustInt(s))
	}
	return 0, fmt.Errorf("asm: unhandled mnemonic %q", s.Mnemonic)
}

func mustInt(s *Statement) int64 {
	if s.IntArg == nil {
		return -1
	}
	return *s.IntArg
}

func requireOperand(s *Statement, mnemonic string) error {
	if s.IntArg == nil && s.NameArg == nil {
		return fmt.Errorf("asm: %s requires an operand", mnemonic)
	}
	return nil
}

// paramSize reports the size of a resolved CAL/JMP/LDV/STV parameter:
// one byte for the direct 0-14 range, or an immediate-push plus the
// opcode byte for the stack-overflow route. 15 itself is unreachable
// by either route (§ design notes) and is rejected at emit time.
func paramSize(v int64) (int, error) {
	switch {
	case v >= 0 && v <= 14:
		return 1, nil
	case v == 15:
		return 0, fmt.Errorf("asm: parameter 15 is unreachable (reserved as the stack-overflow marker)")
	default:
		pushed := biasedPush(int32(v))
		return len(encodeImmediate(pushed)) + 1, nil
	}
}

// biasedPush inverts the VM's resolveParam bias: final = pushed + 15
// when pushed > 0, else final = pushed unchanged.
func biasedPush(final int32) int32 {
	if final > 15 {
		return final - 15
	}
	return final
}

type mnemonicKind int

const (
	kindPsh mnemonicKind = iota
	kindNoOperand
	kindBranch
	kindLdc
	kindJmb
	kindPop
	kindJmp
	kindCal
	kindLdv
	kindStv
)

type mnemonicInfo struct {
	kind mnemonicKind
	base byte
}

// mnemonics binds every assembly mnemonic to its opcode base byte and
// operand-resolution strategy.
var mnemonics = map[string]mnemonicInfo{
	"psh": {kindPsh, 0x00},

	"bze": {kindBranch, 0xA0}, "bnz": {kindBranch, 0xA1},
	"beq": {kindBranch, 0xA2}, "bne": {kindBranch, 0xA3},
	"bgt": {kindBranch, 0xA4}, "blt": {kindBranch, 0xA5},
	"bge": {kindBranch, 0xA6}, "ble": {kindBranch, 0xA7},

	"add": {kindNoOperand, 0xA8}, "sub": {kindNoOperand, 0xA9},
	"mul": {kindNoOperand, 0xAA}, "div": {kindNoOperand, 0xAB},
	"pwr": {kindNoOperand, 0xAC}, "and": {kindNoOperand, 0xAD},
	"ior": {kindNoOperand, 0xAE}, "xor": {kindNoOperand, 0xAF},

	"skz": {kindNoOperand, 0xB0}, "snz": {kindNoOperand, 0xB1},
	"skn": {kindNoOperand, 0xB2}, "snn": {kindNoOperand, 0xB3},
	"slp": {kindNoOperand, 0xB4}, "ret": {kindNoOperand, 0xB5},
	"ldc": {kindLdc, 0xB6}, "jmb": {kindJmb, 0xB7},
	"neg": {kindNoOperand, 0xB8}, "inv": {kindNoOperand, 0xB9},
	"inc": {kindNoOperand, 0xBA}, "dec": {kindNoOperand, 0xBB},
	"pop": {kindPop, 0xBC},

	"jmp": {kindJmp, 0xC0},
	"cal": {kindCal, 0xD0},
	"ldv": {kindLdv, 0xE0},
	"stv": {kindStv, 0xF0},
}

// fixedImmediateWidth is the byte length of encodeImmediateFixed's
// output: enough PSH+PSC bytes to represent any int32 bit-exactly, so
// a label-referencing pseudo-op's size never depends on the value the
// label resolves to.
const fixedImmediateWidth = 6

// encodeImmediate returns the shortest PSH(+PSC)* byte sequence that
// reconstructs v when executed, by pushing the absolute value and
// negating it for negative inputs.
func encodeImmediate(v int32) []byte {
	if v < 0 {
		out := encodeUnsigned(uint32(-int64(v)))
		return append(out, mnemonics["neg"].base)
	}
	return encodeUnsigned(uint32(v))
}

// encodeImmediateFixed always emits fixedImmediateWidth bytes,
// reconstructing v bit-for-bit via its two's complement pattern —
// used only where the pushed value depends on an as-yet-unresolved
// label, so instruction sizing can be computed in a single pass.
func encodeImmediateFixed(v int32) []byte {
	u := uint32(v)
	const k = fixedImmediateWidth - 1
	out := make([]byte, 0, fixedImmediateWidth)
	out = append(out, byte((u>>(5*k))&0x7F))
	for i := k - 1; i >= 0; i-- {
		out = append(out, 0x80|byte((u>>(5*uint(i)))&0x1F))
	}
	return out
}

// encodeUnsigned packs u into a minimal PSH followed by PSC bytes: PSH
// carries the 7 most-significant bits actually needed, each PSC folds
// in 5 more bits (value = value<<5 | bits), matching PSH/PSC's wire
// semantics exactly.
func encodeUnsigned(u uint32) []byte {
	if u == 0 {
		return []byte{0x00}
	}
	bitlen := bits.Len32(u)
	k := 0
	if bitlen > 7 {
		k = (bitlen - 7 + 4) / 5 // ceil((bitlen-7)/5)
	}
	out := make([]byte, 0, k+1)
	out = append(out, byte((u>>(5*uint(k)))&0x7F))
	for i := k - 1; i >= 0; i-- {
		out = append(out, 0x80|byte((u>>(5*uint(i)))&0x1F))
	}
	return out
}

// emitBody writes one function or main body's instructions, resolving
// labels against addr and function names against funcIndex. base is
// the global code offset this body starts at — the same running
// offset the layout pass used — so label addresses and displacement
// arithmetic agree between passes.
//
// This only works because instruction size never depends on a label's
// resolved address: branch and jmp statements with a label operand
// always reserve the fixed width regardless of the eventual
// displacement, jmb accepts no label at all, and the remaining
// jmp/cal/ldv/stv parameters are sized from values known independently
// of code layout (a function index, or an explicit immediate). That removes the
// usual assembler relaxation problem at the cost of slightly larger
// label-relative branches than a hand-packed encoding would use.
func emitBody(code []byte, lines []*Line, addr map[string]int, funcIndex map[string]int, base int) ([]byte, error) {
	pos := base
	for _, line := range lines {
		if line.Label != nil {
			continue
		}
		s := line.Stmt
		info := mnemonics[s.Mnemonic]
		var err error
		code, pos, err = emitStatement(code, pos, s, info, addr, funcIndex)
		if err != nil {
			return nil, err
		}
	}
	return code, nil
}

func emitStatement(code []byte, pos int, s *Statement, info mnemonicInfo, addr, funcIndex map[string]int) ([]byte, int, error) {
	switch info.kind {
	case kindPsh:
		b := encodeImmediate(int32(*s.IntArg))
		return append(code, b...), pos + len(b), nil

	case kindNoOperand:
		return append(code, info.base), pos + 1, nil

	case kindBranch:
		switch {
		case s.NameArg != nil:
			target, ok := addr[*s.NameArg]
			if !ok {
				return nil, 0, fmt.Errorf("asm: undefined label %q", *s.NameArg)
			}
			opAddr := pos + fixedImmediateWidth
			disp := int32(target - opAddr - 2)
			b := encodeImmediateFixed(disp)
			b = append(b, info.base)
			return append(code, b...), pos + len(b), nil
		case s.IntArg != nil:
			b := encodeImmediate(int32(*s.IntArg))
			b = append(b, info.base)
			return append(code, b...), pos + len(b), nil
		default:
			return append(code, info.base), pos + 1, nil
		}

	case kindLdc:
		b := encodeImmediate(int32(*s.IntArg))
		b = append(b, info.base)
		return append(code, b...), pos + len(b), nil

	case kindJmb:
		if s.IntArg != nil {
			b := encodeImmediate(int32(*s.IntArg))
			b = append(b, info.base)
			return append(code, b...), pos + len(b), nil
		}
		return append(code, info.base), pos + 1, nil

	case kindPop:
		return append(code, info.base+byte(*s.IntArg-1)), pos + 1, nil

	case kindJmp:
		if s.NameArg != nil {
			target, ok := addr[*s.NameArg]
			if !ok {
				return nil, 0, fmt.Errorf("asm: undefined label %q", *s.NameArg)
			}
			opAddr := pos + fixedImmediateWidth
			// jump()'s own -2 bias for negative params (§ design
			// notes) means the two branches of its displacement
			// formula meet at different offsets; resolve whichever
			// is consistent with its own sign.
			disp := int32(target - opAddr - 2)
			if disp < 0 {
				disp = int32(target - opAddr)
				if disp >= 0 {
					return nil, 0, fmt.Errorf("asm: jmp to %q has no representable displacement (too close to the jump site)", *s.NameArg)
				}
			}
			if disp >= 1 && disp <= 15 {
				return nil, 0, fmt.Errorf("asm: jmp to %q resolves to a displacement in [1,15], unreachable via the stack-overflow encoding; use a nearer label or a direct numeric jmp", *s.NameArg)
			}
			pushed := biasedPush(disp)
			b := encodeImmediateFixed(pushed)
			b = append(b, info.base|0x0F)
			return append(code, b...), pos + len(b), nil
		}
		return emitParam(code, pos, mustInt(s), info.base)

	case kindCal:
		if s.NameArg != nil {
			idx := int64(funcIndex[*s.NameArg])
			return emitParam(code, pos, idx, info.base)
		}
		return emitParam(code, pos, mustInt(s), info.base)

	case kindLdv, kindStv:
		return emitParam(code, pos, mustInt(s), info.base)
	}
	return nil, 0, fmt.Errorf("asm: unhandled mnemonic")
}

// emitParam writes a resolved CAL/JMP/LDV/STV parameter: direct when
// it fits the 4-bit field, otherwise the stack-overflow route.
func emitParam(code []byte, pos int, v int64, base byte) ([]byte, int, error) {
	switch {
	case v >= 0 && v <= 14:
		return append(code, base|byte(v)), pos + 1, nil
	case v == 15:
		return nil, 0, fmt.Errorf("asm: parameter 15 is unreachable (reserved as the stack-overflow marker)")
	default:
		pushed := biasedPush(int32(v))
		b := encodeImmediate(pushed)
		b = append(b, base|0x0F)
		return append(code, b...), pos + len(b), nil
	}
}
