package deviceaccess_test

import (
	"errors"
	"testing"

	"github.com/fieldbus/deviceaccess"
)

func TestLogicErrorIsTerminal(t *testing.T) {
	sentinel := errors.New("bad path")
	err := deviceaccess.NewLogicError("GetRegister", sentinel)

	var logic *deviceaccess.LogicError
	if !errors.As(err, &logic) {
		t.Fatalf("expected errors.As to find *LogicError, got %v", err)
	}
	if logic.Err != sentinel {
		t.Errorf("expected LogicError.Err to hold the sentinel directly, got %v", logic.Err)
	}
	if errors.Is(err, sentinel) {
		t.Errorf("LogicError must not unwrap to its wrapped cause")
	}

	var runtime *deviceaccess.RuntimeError
	if errors.As(err, &runtime) {
		t.Errorf("LogicError must not also match as *RuntimeError")
	}
}

func TestRuntimeErrorUnwraps(t *testing.T) {
	sentinel := errors.New("connection reset")
	err := deviceaccess.NewRuntimeError("ReadWords", sentinel)

	var runtime *deviceaccess.RuntimeError
	if !errors.As(err, &runtime) {
		t.Fatalf("expected errors.As to find *RuntimeError, got %v", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected errors.Is to find wrapped sentinel")
	}
}
