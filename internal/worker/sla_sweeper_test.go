package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func (s *countingSweeper) SweepBreaches(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 3 {
		close(s.done)
	}
	return 1, s.err
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := &countingSweeper{done: make(chan struct{})}

	stopped := make(chan struct{})
	go func() {
		StartSLASweeper(ctx, sweeper, 5*time.Millisecond, nil)
		close(stopped)
	}()

	select {
	case <-sweeper.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not tick")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper ignored cancellation")
	}
}

func TestSweepFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sweepOnce(context.Background(), &countingSweeper{err: errors.New("db down"), done: make(chan struct{})}, time.Now(), zap.New(core))
	if logs.FilterMessage("sla sweep failed").Len() != 1 {
		t.Fatalf("expected failure log, got %v", logs.All())
	}
}
