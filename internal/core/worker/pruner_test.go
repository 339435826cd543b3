package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPruner_RunsUntilCancelled(t *testing.T) {
	var calls atomic.Int32
	p := NewPruner("test", 5*time.Millisecond, func() int {
		calls.Add(1)
		return 1
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestPruner_DisabledWithoutInterval(t *testing.T) {
	var calls atomic.Int32
	p := NewPruner("test", 0, func() int {
		calls.Add(1)
		return 0
	}, nil)

	p.Start(context.Background())
	assert.Zero(t, calls.Load())
}

func TestPruner_RecoversFromPanic(t *testing.T) {
	var calls atomic.Int32
	p := NewPruner("test", 5*time.Millisecond, func() int {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return 0
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
}
