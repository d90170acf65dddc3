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
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindOpenFailed,
				Detail: `open module "math"`,
				Cause:  errors.New("no such file"),
			},
			contains: []string{"[load]", "open_failed", `open module "math"`, "caused by", "no such file"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDispatch,
				Kind:  KindNotFound,
			},
			contains: []string{"[dispatch]", "not_found"},
		},
		{
			name: "conversion error",
			err:  TypeMismatch("int", "string"),
			contains: []string{
				"[convert]", "type_mismatch", "want int", "got string",
			},
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

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := OpenFailed("math", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not match cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := ArityMismatch("plugin1", 4, 6)

	if !errors.Is(err, &Error{Phase: PhaseConfig, Kind: KindArityMismatch}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseConfig, Kind: KindNotFound}) {
		t.Error("unexpected match on different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("boom")
	err := New(PhaseLookup, KindSymbolMissing).
		Detail("symbol %q missing", "ImportPlugin").
		Cause(cause).
		Build()

	if err.Phase != PhaseLookup || err.Kind != KindSymbolMissing {
		t.Errorf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if !strings.Contains(err.Detail, "ImportPlugin") {
		t.Errorf("detail not formatted: %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not preserved")
	}
}
