package shutdown

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
)

func quietLogger() *logging.Logger {
	l := logging.New(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, quietLogger())
	var order []string
	m.Register("store", func(context.Context) error {
		order = append(order, "store")
		return nil
	})
	m.Register("server", func(context.Context) error {
		order = append(order, "server")
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "server" || order[1] != "store" {
		t.Errorf("expected LIFO order [server store], got %v", order)
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	m := New(time.Second, quietLogger())
	runs := 0
	m.Register("once", func(context.Context) error {
		runs++
		return nil
	})
	m.Shutdown()
	m.Shutdown()
	if runs != 1 {
		t.Errorf("expected hook to run once, ran %d times", runs)
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed after shutdown")
	}
}

func TestShutdownReportsFirstErrorAndKeepsGoing(t *testing.T) {
	m := New(time.Second, quietLogger())
	var ran []string
	m.Register("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	m.Register("broken", func(context.Context) error {
		ran = append(ran, "broken")
		return errors.New("close failed")
	})

	err := m.Shutdown()
	if err == nil {
		t.Fatal("expected hook error to surface")
	}
	if len(ran) != 2 {
		t.Errorf("a failing hook must not stop the rest, ran %v", ran)
	}
}
