package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "oratio/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := newWithSender(Config{Enabled: true, RatePerSec: 100}, logx.Nop(), fs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	s.Notify("run complete")
	s.Notify("run failed")

	deadline := time.Now().Add(2 * time.Second)
	for fs.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if fs.count() != 2 {
		t.Fatalf("sent = %d, want 2", fs.count())
	}
}

func TestNotifyDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Enabled: false}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Enabled() {
		t.Fatal("disabled notifier reports enabled")
	}
	s.Notify("dropped") // must not panic or block
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := newWithSender(Config{Enabled: true, QueueSize: 1}, logx.Nop(), fs)
	// No Run loop draining: second message must drop, not block.
	s.Notify("kept")
	doneCh := make(chan struct{})
	go func() {
		s.Notify("dropped")
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on full queue")
	}
}

func TestNewEnabledRequiresTokenAndChat(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Enabled: true}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing token/chat")
	}
}
