package watchdog

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogFiresAfterDelay(t *testing.T) {
	var fired int32
	w := Start(20*time.Millisecond, func(elapsed time.Duration) {
		atomic.StoreInt32(&fired, 1)
	})
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected callback to have fired")
	}
}

func TestWatchdogStopPreventsCallback(t *testing.T) {
	var fired int32
	w := Start(50*time.Millisecond, func(elapsed time.Duration) {
		atomic.StoreInt32(&fired, 1)
	})
	w.Stop()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected callback not to fire after Stop")
	}
}

func TestWatchdogZeroDelayDisabled(t *testing.T) {
	w := Start(0, func(elapsed time.Duration) {
		t.Fatalf("callback should never fire with zero delay")
	})
	w.Stop()
	time.Sleep(10 * time.Millisecond)
}
