package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: New(PhaseCommand, KindProtocol).
				Path("upload", "texture").
				Index(3).
				Detail("u32 pool underflow").
				Build(),
			contains: []string{"[command]", "protocol", "upload.texture", "command #3", "u32 pool underflow"},
		},
		{
			name:     "minimal error",
			err:      New(PhaseHandle, KindInvalidHandle).Build(),
			contains: []string{"[handle]", "invalid_handle"},
		},
		{
			name:     "error with cause",
			err:      Wrap(PhaseHost, KindHostFailure, errors.New("disk full"), "save blob"),
			contains: []string{"[host]", "host_failure", "save blob", "caused by", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoIndexOmitted(t *testing.T) {
	msg := InvalidHandle(PhaseHandle, 9, "released").Error()
	if strings.Contains(msg, "command #") {
		t.Errorf("unexpected command index in %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseAsync, KindHostFailure, cause, "await")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_Is(t *testing.T) {
	a := InvalidHandle(PhaseHandle, 4, "released")
	b := New(PhaseHandle, KindInvalidHandle).Build()
	c := New(PhaseMarshal, KindInvalidHandle).Build()

	if !errors.Is(a, b) {
		t.Error("same phase and kind should match")
	}
	if errors.Is(a, c) {
		t.Error("different phase should not match")
	}
	if !errors.Is(c, ErrInvalidHandle) {
		t.Error("kind sentinel should match any phase")
	}
	if errors.Is(a, ErrDecode) {
		t.Error("different kind should not match sentinel")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
		name string
	}{
		{nil, CodeOK, "nil"},
		{InvalidHandle(PhaseHandle, 2, "x"), CodeInvalidHandle, "invalid handle"},
		{InvalidUTF8(PhaseMarshal, 0, []byte{0xff}), CodeDecode, "decode"},
		{OutOfRange(PhaseMarshal, 10, 10, 8), CodeOutOfRange, "out of range"},
		{Protocol(PhaseCommand, 1, "unknown opcode"), CodeProtocol, "protocol"},
		{Unsupported(PhaseHost, "float linear"), CodeUnsupported, "unsupported"},
		{TypeMismatch(PhaseHandle, 3, "numeric", "text"), CodeTypeMismatch, "type mismatch"},
		{errors.New("plain"), CodeHostFailure, "foreign error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAtIndex(t *testing.T) {
	err := AtIndex(InvalidHandle(PhaseCommand, 5, "released"), 7)
	idx, ok := IndexOf(err)
	if !ok || idx != 7 {
		t.Fatalf("IndexOf = %d, %v; want 7, true", idx, ok)
	}

	kept := AtIndex(Protocol(PhaseCommand, 2, "bad"), 9)
	if idx, _ := IndexOf(kept); idx != 2 {
		t.Errorf("existing index overwritten: %d", idx)
	}

	foreign := AtIndex(errors.New("device lost"), 4)
	if CodeOf(foreign) != CodeHostFailure {
		t.Errorf("foreign error code = %d", CodeOf(foreign))
	}
	if idx, _ := IndexOf(foreign); idx != 4 {
		t.Errorf("foreign error index = %d", idx)
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{"wbg#__wbindgen_throw", "wbg#__wbindgen_rethrow", "audio#play"})
	if len(err.Imports) != 3 {
		t.Fatalf("expected 3 imports, got %d", len(err.Imports))
	}
	msg := err.Error()
	for _, s := range []string{"missing 3 import(s)", "wbg:", "__wbindgen_throw", "audio:", "play"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q missing %q", msg, s)
		}
	}
	if !errors.Is(err, &MissingImportsError{}) {
		t.Error("errors.Is should match MissingImportsError")
	}
}
