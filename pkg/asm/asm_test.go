package asm

import (
	"os"
	"testing"

	"pvm/pkg/exe"
)

func TestAssembleTestdataFixture(t *testing.T) {
	src, err := os.ReadFile("../../testdata/double.pvmasm")
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	data, err := Assemble(string(src))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(img.Functions) != 2 {
		t.Fatalf("FunctionsCount = %d, want 2", len(img.Functions))
	}
	if len(img.Constants) != 1 || img.Constants[0] != 21 {
		t.Fatalf("Constants = %v, want [21]", img.Constants)
	}
}

func TestAssembleSimpleArithmetic(t *testing.T) {
	src := `
.vars 0
.main
psh 3
psh 4
add
ret
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []byte{0x03, 0x04, 0xA8, 0xB5}
	if len(img.Code) != len(want) {
		t.Fatalf("code = % x, want % x", img.Code, want)
	}
	for i := range want {
		if img.Code[i] != want[i] {
			t.Fatalf("code[%d] = %#x, want %#x", i, img.Code[i], want[i])
		}
	}
}

func TestAssembleBranchToLabel(t *testing.T) {
	src := `
.vars 0
.main
psh 0
bze skip
psh 9
ret
skip:
psh 7
ret
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// psh 0 (1 byte) + bze pseudo (6-byte fixed push + 1 opcode byte) +
	// psh 9 (1) + ret (1) must land exactly on "skip".
	skipAt := 1 + (fixedImmediateWidth + 1) + 1 + 1
	if int(img.Code[skipAt]) != 0x07 {
		t.Fatalf("label placement wrong: code = % x, expected psh 7 at %d", img.Code, skipAt)
	}
}

func TestAssembleFunctionCall(t *testing.T) {
	src := `
.vars 0
.func double args 1 vars 0 returns 1
ldv 0
ldv 0
add
ret
.end
.main
psh 10
cal double
ret
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(img.Functions) != 1 {
		t.Fatalf("FunctionsCount = %d, want 1", len(img.Functions))
	}
	f := img.Functions[0]
	if f.ArgumentsCount != 1 || f.VariablesCount != 0 || f.ReturnsCount != 1 {
		t.Fatalf("function signature = %+v", f)
	}
	// main: psh 10 (1 byte) then cal double (direct, index 0 <= 14: 1 byte) then ret.
	if img.Code[1] != 0xD0 {
		t.Fatalf("cal opcode = %#x, want 0xD0 (direct index 0)", img.Code[1])
	}
	if f.Address != 3 {
		t.Fatalf("function address = %d, want 3", f.Address)
	}
}

func TestAssembleBuiltinFunction(t *testing.T) {
	src := `
.vars 0
.func print args 1 vars 0 returns 0 builtin 0
.main
psh 5
cal print
ret
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !img.Functions[0].IsBuiltIn {
		t.Fatalf("expected IsBuiltIn")
	}
	if img.Functions[0].Address != 0 {
		t.Fatalf("builtin address = %d, want 0", img.Functions[0].Address)
	}
}

func TestAssembleVariadicFunction(t *testing.T) {
	src := `
.vars 0
.func print args 0 vars 0 returns 0 variadic builtin 0
.main
psh 1
psh 2
psh 3
psh 3
cal print
ret
`
	data, err := Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	img, err := exe.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !img.Functions[0].IsVariadic {
		t.Fatalf("expected IsVariadic")
	}
	if img.Functions[0].ArgumentsCount != 0 {
		t.Fatalf("ArgumentsCount = %d, want 0", img.Functions[0].ArgumentsCount)
	}
}

func TestParamSizeRejectsReservedFifteen(t *testing.T) {
	if _, err := paramSize(15); err == nil {
		t.Fatalf("paramSize(15) succeeded, want error")
	}
}

func TestEncodeImmediateRoundTripsSmallAndLarge(t *testing.T) {
	for _, v := range []int32{0, 1, 42, 127, 128, -1, -128, 100000, -100000} {
		b := encodeImmediate(v)
		if len(b) == 0 {
			t.Fatalf("encodeImmediate(%d) produced no bytes", v)
		}
		// Replay the bytes with the VM's PSH/PSC/NEG semantics.
		var got int32
		for _, op := range b {
			switch {
			case op&0x80 == 0:
				got = int32(op & 0x7F)
			case op&0xE0 == 0x80:
				got = got<<5 | int32(op&0x1F)
			case op == mnemonics["neg"].base:
				got = -got
			default:
				t.Fatalf("encodeImmediate(%d) emitted unexpected byte %#x", v, op)
			}
		}
		if got != v {
			t.Fatalf("encodeImmediate(%d) = % x, decodes to %d", v, b, got)
		}
	}
}
