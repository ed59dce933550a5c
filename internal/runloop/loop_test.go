package runloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New("test", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestPostRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := range 5 {
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post(%d) = false, want true", i)
		}
	}
	// Do runs after everything posted before it, so got is stable afterwards.
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestPostAfterCloseRejected(t *testing.T) {
	l := New("closed", zap.NewNop())
	l.Close()

	if l.Post(func() {}) {
		t.Error("Post() on closed loop = true, want false")
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() on closed loop error = %v, want ErrClosed", err)
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	l := New("cancel", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	cancel()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if l.Post(func() {}) {
		t.Error("Post() after Run returned = true, want false")
	}
}

func TestTaskPanicDoesNotKillLoop(t *testing.T) {
	l, _ := startLoop(t)

	l.Post(func() { panic("boom") })

	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !ran {
		t.Error("task after panic did not run")
	}
}

func TestDoHonoursContext(t *testing.T) {
	l := New("idle", zap.NewNop()) // never run
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Do(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want DeadlineExceeded", err)
	}
}
