package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "oratio/pkg/logx"
)

// Intervals are whole seconds: the cron engine schedules @every at
// second granularity.

func TestTickerFiresRepeatedly(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var fires atomic.Int32
	if err := s.Add("count", time.Second, 0, func(ctx context.Context) {
		fires.Add(1)
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(2500 * time.Millisecond)
	s.Stop(ctx)

	if n := fires.Load(); n < 2 {
		t.Fatalf("fires = %d, want >= 2", n)
	}
}

func TestTickerJobsNeverOverlap(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var inFlight atomic.Int32
	var maxSeen atomic.Int32

	slow := func(ctx context.Context) {
		cur := inFlight.Add(1)
		if cur > maxSeen.Load() {
			maxSeen.Store(cur)
		}
		time.Sleep(1200 * time.Millisecond)
		inFlight.Add(-1)
	}
	_ = s.Add("slow-a", time.Second, 0, slow)
	_ = s.Add("slow-b", time.Second, 0, slow)

	ctx := context.Background()
	s.Start(ctx)
	time.Sleep(4 * time.Second)
	s.Stop(ctx)

	if maxSeen.Load() > 1 {
		t.Fatalf("ticks overlapped: max in-flight = %d", maxSeen.Load())
	}
}

func TestTickerStartupDelay(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	var fires atomic.Int32
	_ = s.Add("delayed", time.Second, 1500*time.Millisecond, func(ctx context.Context) {
		fires.Add(1)
	})

	ctx := context.Background()
	s.Start(ctx)
	// Without the delay the first fire would land at ~1s.
	time.Sleep(1200 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Fatalf("job fired %d times before its startup delay", n)
	}
	time.Sleep(2 * time.Second)
	s.Stop(ctx)
	if n := fires.Load(); n == 0 {
		t.Fatal("job never fired after startup delay")
	}
}

func TestAddAfterStartRejected(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)
	if err := s.Add("late", time.Second, 0, func(ctx context.Context) {}); err == nil {
		t.Fatal("expected error adding job after start")
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	if err := s.Add("bad", 0, 0, func(ctx context.Context) {}); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if err := s.Add("bad", time.Second, 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}
