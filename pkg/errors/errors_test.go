package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidSpec, "bad spec: %s", "foo@@1")

	if err.Code != ErrCodeInvalidSpec {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeInvalidSpec)
	}
	if err.Message != "bad spec: foo@@1" {
		t.Errorf("Message = %q", err.Message)
	}
	if !strings.Contains(err.Error(), "INVALID_SPEC") {
		t.Errorf("Error() = %q, want code prefix", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrCodeNetwork, cause, "fetch %s", "left-pad")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodePackageNotFound, "no such package"))

	if !Is(err, ErrCodePackageNotFound) {
		t.Error("Is() should match through wrapping")
	}
	if Is(err, ErrCodeNetwork) {
		t.Error("Is() matched the wrong code")
	}
	if Is(stderrors.New("plain"), ErrCodeNetwork) {
		t.Error("Is() matched a plain error")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeIOWrite, "disk full")); got != ErrCodeIOWrite {
		t.Errorf("GetCode() = %q, want %q", got, ErrCodeIOWrite)
	}
	if got := GetCode(stderrors.New("plain")); got != "" {
		t.Errorf("GetCode() = %q, want empty", got)
	}
}

func TestUserMessage(t *testing.T) {
	err := New(ErrCodeInvalidManifest, "missing dependencies field")
	if got := UserMessage(err); got != "missing dependencies field" {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(stderrors.New("plain")); got != "plain" {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestFatal(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{ErrCodeInvalidInput, true},
		{ErrCodeInvalidManifest, true},
		{ErrCodeNetwork, false},
		{ErrCodePackageNotFound, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := Fatal(New(tt.code, "x")); got != tt.want {
				t.Errorf("Fatal(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
