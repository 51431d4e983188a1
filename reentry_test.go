package phasebarrier

import "testing"

func TestReentryGuard(t *testing.T) {
	var g reentryGuard

	if g.heldByCaller() {
		t.Fatal("expected guard to be unheld initially")
	}

	g.acquire()
	if !g.heldByCaller() {
		t.Fatal("expected guard to be held by the acquiring goroutine")
	}

	done := make(chan bool, 1)
	go func() {
		done <- g.heldByCaller()
	}()
	if held := <-done; held {
		t.Fatal("expected guard to report unheld from a different goroutine")
	}

	g.release()
	if g.heldByCaller() {
		t.Fatal("expected guard to be unheld after release")
	}
}
