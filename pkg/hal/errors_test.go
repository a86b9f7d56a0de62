package hal

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeOK},
		{"generic", ErrGeneric, CodeError},
		{"busy", ErrBusy, CodeBusy},
		{"timeout", ErrTimeout, CodeTimeout},
		{"unsupported", ErrUnsupported, CodeUnsupported},
		{"parameter", ErrParameter, CodeParameter},
		{"not initialized", ErrNotInitialized, CodeNotInitialized},
		{"already initialized", ErrAlreadyInitialized, CodeAlreadyInitialized},
		{"wrapped", fmt.Errorf("failed to send: %w", ErrBusy), CodeBusy},
		{"foreign", errors.New("boom"), CodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinelErrorsDistinct(t *testing.T) {
	errs := []error{
		ErrGeneric,
		ErrBusy,
		ErrTimeout,
		ErrUnsupported,
		ErrParameter,
		ErrNotInitialized,
		ErrAlreadyInitialized,
	}
	for i, err1 := range errs {
		if CodeOf(err1) >= 0 {
			t.Errorf("error %d has non-negative code %d", i, CodeOf(err1))
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestCodeString(t *testing.T) {
	if got := CodeBusy.String(); got != "busy" {
		t.Errorf("CodeBusy.String() = %q", got)
	}
	if got := Code(-42).String(); got != "code(-42)" {
		t.Errorf("Code(-42).String() = %q", got)
	}
}
