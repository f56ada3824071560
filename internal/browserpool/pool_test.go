package browserpool

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newEmptyPool builds a Pool with no real instances, for exercising
// Acquire/Release/Stop bookkeeping without a Chrome binary.
func newEmptyPool(bufSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:    InstanceConfig{PoolSize: bufSize, ShutdownTimeout: time.Second},
		logger:    zap.NewNop(),
		instances: make([]*Instance, 0),
		available: make(chan int, bufSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func TestAcquire_BlocksUntilContextCancelled(t *testing.T) {
	pool := newEmptyPool(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pool.Acquire(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestAcquire_ReturnsErrorAfterStop(t *testing.T) {
	pool := newEmptyPool(1)
	pool.cancel() // simulate Stop() without waiting on empty instances

	_, err := pool.Acquire(context.Background())
	if err != ErrPoolShuttingDown {
		t.Fatalf("Acquire() error = %v, want ErrPoolShuttingDown", err)
	}
}

func TestStats_Initial(t *testing.T) {
	pool := newEmptyPool(3)
	pool.available <- 0
	pool.available <- 1

	stats := pool.Stats()
	if stats.AvailableInstances != 2 {
		t.Errorf("AvailableInstances = %d, want 2", stats.AvailableInstances)
	}
	if stats.ActiveInstances != 0 {
		t.Errorf("ActiveInstances = %d, want 0", stats.ActiveInstances)
	}
}

func TestRelease_NilInstanceIsANoOp(t *testing.T) {
	pool := newEmptyPool(1)
	pool.Release(Handle{}) // must not panic
}

func TestStop_CompletesImmediatelyWithNoActiveHandles(t *testing.T) {
	pool := newEmptyPool(1)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return promptly with zero active handles")
	}
}

func TestInstanceStatus_String(t *testing.T) {
	cases := map[InstanceStatus]string{
		StatusIdle:       "idle",
		StatusRendering:  "rendering",
		StatusRestarting: "restarting",
		StatusDead:       "dead",
		StatusClosed:     "closed",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(status), got, want)
		}
	}
}
