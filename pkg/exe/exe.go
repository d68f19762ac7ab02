// Package exe parses and validates PVM executable images.
//
// An image is a read-only, densely packed byte sequence: a small fixed
// header, a table of function descriptors, a table of 32-bit constants,
// and a trailing blob of bytecode. The layout is bit-exact little-endian
// with no padding, matching the C `pvm_exe_t` this format was distilled
// from (see original_source/pvm.h in the design notes).
package exe

import (
	"encoding/binary"
	"fmt"
)

// SupportedVersion is the only vm_version this package accepts.
const SupportedVersion uint8 = 1

// header is vm_version(1) + size(2) + functions_count(1) + constants_count(1) + main_variables_count(1).
const headerSize = 6

// functionDescriptorSize is the packed size of one Function: address(2) + arguments_count(1) + variables_count(1) + flags(1).
const functionDescriptorSize = 5

// constantSize is the packed size of one constant: a little-endian int32.
const constantSize = 4

// CheckResult is the outcome of Check.
type CheckResult uint8

const (
	CheckOK CheckResult = iota
	CheckSizeMismatch
	CheckVersionMismatch
)

func (r CheckResult) String() string {
	switch r {
	case CheckOK:
		return "ok"
	case CheckSizeMismatch:
		return "size mismatch"
	case CheckVersionMismatch:
		return "version mismatch"
	default:
		return "unknown check result"
	}
}

// Check validates only the header's declared size and version, exactly
// as pvm_exe_check does: it does not range-check function addresses,
// constants, or code — those are enforced lazily, per opcode, by pkg/vm.
func Check(data []byte) CheckResult {
	if len(data) < headerSize {
		return CheckSizeMismatch
	}
	declaredSize := binary.LittleEndian.Uint16(data[1:3])
	if int(declaredSize) != len(data)-3 {
		return CheckSizeMismatch
	}
	if data[0] != SupportedVersion {
		return CheckVersionMismatch
	}
	return CheckOK
}

// Function is one entry of the executable's function table.
type Function struct {
	// Address is either a byte offset into Code (bytecode functions) or
	// an index into the host's built-in table (IsBuiltIn functions).
	Address        uint16
	ArgumentsCount uint8
	VariablesCount uint8
	ReturnsCount   uint8
	IsVariadic     bool
	IsBuiltIn      bool
}

// Image is a parsed, validated executable. Code is a slice into the
// same backing array Parse was given, with no copy made, mirroring the
// original's pointer-arithmetic accessors (pvm_code/pvm_code_size).
// Constants is decoded from its little-endian wire form into a new
// slice.
type Image struct {
	VMVersion          uint8
	Size               uint16
	FunctionsCount     uint8
	ConstantsCount     uint8
	MainVariablesCount uint8
	Functions          []Function
	Constants          []int32
	Code               []byte
}

// Parse validates data with Check and decodes its header, function
// table, and constant table. Code is left as a slice of the remaining
// bytes; the validity of addresses into it is checked lazily by pkg/vm,
// as in the original.
func Parse(data []byte) (*Image, error) {
	if res := Check(data); res != CheckOK {
		return nil, fmt.Errorf("exe: %s", res)
	}

	img := &Image{
		VMVersion:          data[0],
		Size:               binary.LittleEndian.Uint16(data[1:3]),
		FunctionsCount:     data[3],
		ConstantsCount:     data[4],
		MainVariablesCount: data[5],
	}

	functionsEnd := headerSize + int(img.FunctionsCount)*functionDescriptorSize
	constantsEnd := functionsEnd + int(img.ConstantsCount)*constantSize
	if constantsEnd > len(data) {
		return nil, fmt.Errorf("exe: function/constant tables extend past end of image (need %d bytes, have %d)", constantsEnd, len(data))
	}

	img.Functions = make([]Function, img.FunctionsCount)
	for i := range img.Functions {
		off := headerSize + i*functionDescriptorSize
		flags := data[off+4]
		img.Functions[i] = Function{
			Address:        binary.LittleEndian.Uint16(data[off : off+2]),
			ArgumentsCount: data[off+2],
			VariablesCount: data[off+3],
			ReturnsCount:   flags & 0x3F,
			IsVariadic:     flags&0x40 != 0,
			IsBuiltIn:      flags&0x80 != 0,
		}
	}

	img.Constants = make([]int32, img.ConstantsCount)
	for i := range img.Constants {
		off := functionsEnd + i*constantSize
		img.Constants[i] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	}

	img.Code = data[constantsEnd:]

	return img, nil
}

// CodeSize returns the number of bytecode bytes in the image.
func (img *Image) CodeSize() int {
	return len(img.Code)
}

// EncodeFunction packs a Function descriptor into its 5-byte wire form.
// Used by pkg/asm to emit images.
func EncodeFunction(f Function) [functionDescriptorSize]byte {
	var b [functionDescriptorSize]byte
	binary.LittleEndian.PutUint16(b[0:2], f.Address)
	b[2] = f.ArgumentsCount
	b[3] = f.VariablesCount
	flags := f.ReturnsCount & 0x3F
	if f.IsVariadic {
		flags |= 0x40
	}
	if f.IsBuiltIn {
		flags |= 0x80
	}
	b[4] = flags
	return b
}

// Encode packs functions count, constants count, main variables count,
// the function table, constant table, and code into a complete image
// byte sequence, computing the header's vm_version and size fields.
// Used by pkg/asm and tests to build fixture images without poking
// bytes by hand.
func Encode(mainVariablesCount uint8, functions []Function, constants []int32, code []byte) ([]byte, error) {
	if len(functions) > 0xFF {
		return nil, fmt.Errorf("exe: too many functions (%d)", len(functions))
	}
	if len(constants) > 0xFF {
		return nil, fmt.Errorf("exe: too many constants (%d)", len(constants))
	}

	body := make([]byte, 0, 3+len(functions)*functionDescriptorSize+len(constants)*constantSize+len(code))
	body = append(body, byte(len(functions)), byte(len(constants)), mainVariablesCount)
	for _, f := range functions {
		enc := EncodeFunction(f)
		body = append(body, enc[:]...)
	}
	for _, c := range constants {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(c))
		body = append(body, b[:]...)
	}
	body = append(body, code...)

	if len(body) > 0xFFFF {
		return nil, fmt.Errorf("exe: image body too large (%d bytes)", len(body))
	}

	out := make([]byte, 0, 3+len(body))
	out = append(out, SupportedVersion)
	var sz [2]byte
	binary.LittleEndian.PutUint16(sz[:], uint16(len(body)))
	out = append(out, sz[:]...)
	out = append(out, body...)
	return out, nil
}
