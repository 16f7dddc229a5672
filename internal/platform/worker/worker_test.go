package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedProcessor struct {
	mu      sync.Mutex
	passes  int
	batches []int // anchored count returned per pass, 0 = idle
	failOn  int   // 1-based pass index that errors, 0 = never
}

func (p *scriptedProcessor) ProcessBatch(_ context.Context, _ int) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passes++
	if p.failOn != 0 && p.passes == p.failOn {
		return 0, 0, errors.New("pool unavailable")
	}
	if p.passes <= len(p.batches) {
		return p.batches[p.passes-1], 0, nil
	}
	return 0, 0, nil
}

func (p *scriptedProcessor) RequeueRetryable(_ context.Context, _ int) (int, error) {
	return 0, nil
}

func (p *scriptedProcessor) passCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passes
}

func TestWakeTriggersImmediatePass(t *testing.T) {
	proc := &scriptedProcessor{batches: []int{0}}
	w := New(proc, Config{Interval: time.Hour, BatchSize: 5}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	w.Wake()
	deadline := time.After(2 * time.Second)
	for proc.passCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("wake did not trigger a pass")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestProductivePassDrainsWithoutWaiting(t *testing.T) {
	// Two productive passes then idle; the interval is far longer than the
	// test, so reaching pass 3 proves productive passes loop immediately.
	proc := &scriptedProcessor{batches: []int{3, 2, 0}}
	w := New(proc, Config{Interval: time.Hour, BatchSize: 5}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	w.Wake()
	deadline := time.After(2 * time.Second)
	for proc.passCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("passes = %d, want 3", proc.passCount())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWakeCoalesces(t *testing.T) {
	w := New(&scriptedProcessor{}, DefaultConfig(), zerolog.Nop())
	// Never blocks even when nothing is draining the channel.
	for i := 0; i < 100; i++ {
		w.Wake()
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	w := New(&scriptedProcessor{}, Config{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
