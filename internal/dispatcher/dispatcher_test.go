package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register(":TEST:", func(ctx context.Context, c Command) (Result, error) {
		called = true
		return Result{Snapshot: "result"}, nil
	})

	result, err := d.Dispatch(context.Background(), Command{Name: ":TEST:", Args: []string{"arg1"}})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result.Snapshot != "result" {
		t.Errorf("expected 'result', got %v", result.Snapshot)
	}
	if result.Queued {
		t.Error("sync handler must not report queued")
	}
}

func TestDispatcher_ContextReachesHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	type ctxKey struct{}
	d.Register(":CTX:", func(ctx context.Context, c Command) (Result, error) {
		return Result{Snapshot: ctx.Value(ctxKey{})}, nil
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "viewer-7")
	result, err := d.Dispatch(ctx, Command{Name: ":CTX:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Snapshot != "viewer-7" {
		t.Errorf("expected caller context value, got %v", result.Snapshot)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Command{Name: ":NOPE:"})
	if err == nil {
		t.Error("expected error for unknown command")
	}
	if d.HasHandler(":NOPE:") {
		t.Error("HasHandler should be false for unregistered command")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int64
	d.Register(":COORDS:", func(ctx context.Context, c Command) (Result, error) {
		processed.Add(1)
		return Result{}, nil
	}, Buffered(16))

	for i := 0; i < 5; i++ {
		result, err := d.Dispatch(context.Background(), Command{Name: ":COORDS:"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Queued {
			t.Errorf("expected queued result, got %+v", result)
		}
	}

	deadline := time.Now().Add(time.Second)
	for processed.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 5 commands processed", processed.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcher_BufferedSupersedesOldestWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan string, 4)
	block := make(chan struct{})
	var mu sync.Mutex
	var handled []string
	d.Register(":SLOW:", func(ctx context.Context, c Command) (Result, error) {
		started <- c.Args[0]
		<-block
		mu.Lock()
		handled = append(handled, c.Args[0])
		mu.Unlock()
		return Result{}, nil
	}, Buffered(1))

	// The worker takes "a" and blocks, leaving the buffer empty.
	if _, err := d.Dispatch(context.Background(), Command{Name: ":SLOW:", Args: []string{"a"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case got := <-started:
		if got != "a" {
			t.Fatalf("worker started on %q, want a", got)
		}
	case <-time.After(time.Second):
		t.Fatal("worker never started")
	}

	// "b" fills the buffer; "c" must supersede it rather than fail or block.
	if _, err := d.Dispatch(context.Background(), Command{Name: ":SLOW:", Args: []string{"b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := d.Dispatch(context.Background(), Command{Name: ":SLOW:", Args: []string{"c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Queued {
		t.Errorf("expected queued result, got %+v", result)
	}

	close(block)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(handled)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("handled %d commands, want 2", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, got := range handled {
		if got == "b" {
			t.Error("superseded command b must not run")
		}
	}
	if handled[0] != "a" || handled[1] != "c" {
		t.Errorf("handled %v, want [a c]", handled)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":FAIL:", func(ctx context.Context, c Command) (Result, error) {
		return Result{}, fmt.Errorf("boom")
	}, Logged())

	_, err := d.Dispatch(context.Background(), Command{Name: ":FAIL:"})
	if err == nil {
		t.Fatal("expected handler error")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	found := false
	for _, m := range logger.messages {
		if len(m) >= 5 && m[:5] == "ERROR" {
			found = true
		}
	}
	if !found {
		t.Error("expected an error log entry")
	}
}
