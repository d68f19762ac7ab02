package asm

import (
	"fmt"
	"strings"
)

var arithMnemonic = [...]string{
	0x0: "bze", 0x1: "bnz", 0x2: "beq", 0x3: "bne",
	0x4: "bgt", 0x5: "blt", 0x6: "bge", 0x7: "ble",
	0x8: "add", 0x9: "sub", 0xA: "mul", 0xB: "div",
	0xC: "pwr", 0xD: "and", 0xE: "ior", 0xF: "xor",
}

var unaryMnemonic = [...]string{
	0x0: "skz", 0x1: "snz", 0x2: "skn", 0x3: "snn",
	0x4: "slp", 0x5: "ret", 0x6: "ldc", 0x7: "jmb",
	0x8: "neg", 0x9: "inv", 0xA: "inc", 0xB: "dec",
	0xC: "pop1", 0xD: "pop2", 0xE: "pop3", 0xF: "pop4",
}

var paramMnemonic = map[byte]string{0xC0: "jmp", 0xD0: "cal", 0xE0: "ldv", 0xF0: "stv"}

// Disassemble renders a raw code byte sequence as one mnemonic per
// line, labeled with its byte offset. It decodes the opcode stream
// directly (the same classification exec.go's dispatch uses) rather
// than inverting pkg/asm's pseudo-ops, so PSH/PSC sequences appear as
// the individual push/continuation bytes a VM trace would show.
func Disassemble(code []byte) string {
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		op := code[i]
		fmt.Fprintf(&b, "%4d: ", i)
		switch {
		case op&0x80 == 0:
			fmt.Fprintf(&b, "psh %d\n", op&0x7F)
		case op&0xE0 == 0x80:
			fmt.Fprintf(&b, "psc %d\n", op&0x1F)
		case op&0xF0 == 0xA0:
			fmt.Fprintf(&b, "%s\n", arithMnemonic[op&0x0F])
		case op&0xF0 == 0xB0:
			fmt.Fprintf(&b, "%s\n", unaryMnemonic[op&0x0F])
		default:
			mnem := paramMnemonic[op&0xF0]
			p := op & 0x0F
			if p == 0x0F {
				fmt.Fprintf(&b, "%s stack\n", mnem)
			} else {
				fmt.Fprintf(&b, "%s %d\n", mnem, p)
			}
		}
	}
	return b.String()
}
