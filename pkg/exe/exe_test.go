package exe

import "testing"

func TestEncodeParseRoundTrip(t *testing.T) {
	functions := []Function{
		{Address: 10, ArgumentsCount: 2, VariablesCount: 1, ReturnsCount: 1},
		{Address: 3, IsBuiltIn: true, ArgumentsCount: 1, ReturnsCount: 0, IsVariadic: true},
	}
	constants := []int32{-1, 42, 1000000}
	code := []byte{0x01, 0x02, 0xB5}

	data, err := Encode(4, functions, constants, code)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	img, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if img.VMVersion != SupportedVersion {
		t.Fatalf("VMVersion = %d, want %d", img.VMVersion, SupportedVersion)
	}
	if img.MainVariablesCount != 4 {
		t.Fatalf("MainVariablesCount = %d, want 4", img.MainVariablesCount)
	}
	if len(img.Functions) != len(functions) {
		t.Fatalf("FunctionsCount = %d, want %d", len(img.Functions), len(functions))
	}
	for i, f := range functions {
		if img.Functions[i] != f {
			t.Fatalf("Functions[%d] = %+v, want %+v", i, img.Functions[i], f)
		}
	}
	if len(img.Constants) != len(constants) {
		t.Fatalf("ConstantsCount = %d, want %d", len(img.Constants), len(constants))
	}
	for i, c := range constants {
		if img.Constants[i] != c {
			t.Fatalf("Constants[%d] = %d, want %d", i, img.Constants[i], c)
		}
	}
	if img.CodeSize() != len(code) {
		t.Fatalf("CodeSize() = %d, want %d", img.CodeSize(), len(code))
	}
	for i, b := range code {
		if img.Code[i] != b {
			t.Fatalf("Code[%d] = %#x, want %#x", i, img.Code[i], b)
		}
	}
}

func TestCheckRejectsShortHeader(t *testing.T) {
	if res := Check([]byte{1, 2, 3}); res != CheckSizeMismatch {
		t.Fatalf("Check(short) = %v, want CheckSizeMismatch", res)
	}
}

func TestCheckRejectsDeclaredSizeMismatch(t *testing.T) {
	data := []byte{SupportedVersion, 0xFF, 0xFF, 0, 0, 0}
	if res := Check(data); res != CheckSizeMismatch {
		t.Fatalf("Check(bad size) = %v, want CheckSizeMismatch", res)
	}
}

func TestCheckRejectsUnsupportedVersion(t *testing.T) {
	data, err := Encode(0, nil, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[0] = SupportedVersion + 1
	if res := Check(data); res != CheckVersionMismatch {
		t.Fatalf("Check(bad version) = %v, want CheckVersionMismatch", res)
	}
}

func TestParseRejectsTruncatedTables(t *testing.T) {
	data, err := Encode(0, []Function{{ArgumentsCount: 1}}, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := data[:len(data)-3]
	// Patch the size field to keep Check happy so Parse reaches the
	// table bounds check instead of failing earlier.
	declared := len(truncated) - 3
	truncated[1] = byte(declared)
	truncated[2] = byte(declared >> 8)
	if _, err := Parse(truncated); err == nil {
		t.Fatalf("Parse(truncated) succeeded, want error")
	}
}
