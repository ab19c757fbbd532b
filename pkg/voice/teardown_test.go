package voice

import (
	"errors"
	"testing"
)

func TestTeardownRunsInReverseOrderOnce(t *testing.T) {
	var order []string
	td := &Teardown{}
	td.Push("first", func() error { order = append(order, "first"); return nil })
	td.Push("second", func() error { order = append(order, "second"); return nil })
	td.Push("third", func() error { order = append(order, "third"); return nil })

	td.Run(nil)
	td.Run(nil) // second run must be a no-op

	if len(order) != 3 {
		t.Fatalf("releases ran %d times, want 3", len(order))
	}
	want := []string{"third", "second", "first"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestTeardownToleratesFailingReleases(t *testing.T) {
	var ran []string
	td := &Teardown{}
	td.Push("a", func() error { ran = append(ran, "a"); return nil })
	td.Push("b", func() error { return errors.New("already closed") })
	td.Push("c", func() error { ran = append(ran, "c"); return nil })

	td.Run(nil)

	if len(ran) != 2 || ran[0] != "c" || ran[1] != "a" {
		t.Fatalf("surviving releases = %v, want [c a]", ran)
	}
}

func TestTeardownPushAfterRunIsNoop(t *testing.T) {
	td := &Teardown{}
	td.Run(nil)
	called := false
	td.Push("late", func() error { called = true; return nil })
	td.Run(nil)
	if called {
		t.Fatalf("late release must not run")
	}
}

func TestTeardownNilSafe(t *testing.T) {
	var td *Teardown
	td.Push("x", func() error { return nil })
	td.Run(nil)
}
