package runner

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolRunsEachTaskOnce(t *testing.T) {
	p := NewPool(4, 16, nil)
	defer p.Close()

	var ran atomic.Int32
	for i := 0; i < 100; i++ {
		p.Defer(func(a, b any) { ran.Add(1) }, nil, nil)
	}
	p.Drain()

	if got := ran.Load(); got != 100 {
		t.Fatalf("expected 100 runs, got %d", got)
	}
}

func TestPoolPassesArguments(t *testing.T) {
	p := NewPool(1, 1, nil)
	defer p.Close()

	got := make(chan [2]any, 1)
	p.Defer(func(a, b any) { got <- [2]any{a, b} }, "one", 2)

	select {
	case args := <-got:
		if args[0] != "one" || args[1] != 2 {
			t.Fatalf("unexpected args: %v", args)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for task")
	}
}

func TestDrainWaitsForChainedTasks(t *testing.T) {
	p := NewPool(2, 8, nil)
	defer p.Close()

	var ran atomic.Int32
	p.Defer(func(a, b any) {
		ran.Add(1)
		p.Defer(func(a, b any) { ran.Add(1) }, nil, nil)
	}, nil, nil)
	p.Drain()

	if got := ran.Load(); got != 2 {
		t.Fatalf("expected chained task to finish before Drain returned, got %d", got)
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 4, zap.NewNop())
	defer p.Close()

	done := make(chan struct{})
	p.Defer(func(a, b any) { panic("boom") }, nil, nil)
	p.Defer(func(a, b any) { close(done) }, nil, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestDeferAfterCloseRunsInline(t *testing.T) {
	p := NewPool(1, 1, nil)
	p.Close()
	p.Close() // idempotent

	ran := false
	p.Defer(func(a, b any) { ran = true }, nil, nil)
	if !ran {
		t.Fatal("task submitted after Close did not run")
	}
}
