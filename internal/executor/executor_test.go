package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmit_RunsOffCallerGoroutine(t *testing.T) {
	e := New(Config{MaxThreads: 4})
	defer e.Shutdown(context.Background())

	future, err := Submit(e, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	val, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if val != 42 {
		t.Errorf("val = %d, want 42", val)
	}
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	e := New(Config{MaxThreads: 2})
	defer e.Shutdown(context.Background())

	var inFlight, maxSeen int64
	release := make(chan struct{})

	// Submit blocks once both workers are busy, so the hand-offs run on
	// their own goroutine until release frees the workers.
	submitErr := make(chan error, 1)
	go func() {
		defer close(submitErr)
		for i := 0; i < 5; i++ {
			_, err := Submit(e, func() (struct{}, error) {
				n := atomic.AddInt64(&inFlight, 1)
				for {
					cur := atomic.LoadInt64(&maxSeen)
					if n <= cur || atomic.CompareAndSwapInt64(&maxSeen, cur, n) {
						break
					}
				}
				<-release
				atomic.AddInt64(&inFlight, -1)
				return struct{}{}, nil
			})
			if err != nil {
				submitErr <- fmt.Errorf("submit %d: %w", i, err)
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	if err := <-submitErr; err != nil {
		t.Fatalf("%v", err)
	}

	if got := atomic.LoadInt64(&maxSeen); got > 2 {
		t.Errorf("max concurrent = %d, want <= 2", got)
	}
}

func TestInFlight_TracksRunningTasks(t *testing.T) {
	e := New(Config{MaxThreads: 4})
	defer e.Shutdown(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := Submit(e, func() (struct{}, error) {
		close(started)
		<-release
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	if got := e.InFlight(); got != 1 {
		t.Errorf("in-flight = %d, want 1", got)
	}

	close(release)
	time.Sleep(20 * time.Millisecond)
	if got := e.InFlight(); got != 0 {
		t.Errorf("in-flight after completion = %d, want 0", got)
	}
}

func TestSubmit_AfterShutdown_ReturnsErrClosed(t *testing.T) {
	e := New(Config{MaxThreads: 2})
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, err := Submit(e, func() (int, error) { return 0, nil })
	if err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestSchedule_FiresAfterDelay(t *testing.T) {
	e := New(Config{MaxThreads: 1})
	defer e.Shutdown(context.Background())

	fired := make(chan struct{})
	e.Schedule(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled func did not fire")
	}
}

func TestSchedule_CancelPreventsFiring(t *testing.T) {
	e := New(Config{MaxThreads: 1})
	defer e.Shutdown(context.Background())

	fired := make(chan struct{})
	cancel := e.Schedule(50*time.Millisecond, func() { close(fired) })
	cancel()

	select {
	case <-fired:
		t.Fatal("scheduled func fired despite cancel")
	case <-time.After(100 * time.Millisecond):
	}
}
