// Package ticker drives the agent's recurring timers off a cron engine.
//
// All jobs share one worker, so two ticks never overlap: the slot
// check relies on this to mark a slot consumed and launch its run
// without racing a following check. Jobs may declare a startup delay
// so a freshly started process doesn't fire instantly on a borderline
// slot boundary.
package ticker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "oratio/pkg/logx"
)

type def struct {
	name  string
	every time.Duration
	delay time.Duration
	job   func(ctx context.Context)
}

type task struct {
	name string
	job  func(ctx context.Context)
}

type Service struct {
	mu sync.Mutex

	log logx.Logger

	c    *cron.Cron
	defs []def

	queue    chan task
	stopCh   chan struct{}
	timers   []*time.Timer
	workerWG sync.WaitGroup
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log}
}

// Add registers a recurring job. Must be called before Start; the
// first fire happens one interval after Start plus the startup delay.
func (s *Service) Add(name string, every, startDelay time.Duration, job func(ctx context.Context)) error {
	if every <= 0 {
		return errors.New("ticker: interval must be positive")
	}
	if job == nil {
		return errors.New("ticker: nil job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return errors.New("ticker: already started")
	}
	s.defs = append(s.defs, def{name: name, every: every, delay: startDelay, job: job})
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan task, 16)
	s.c = cron.New()

	for _, d := range s.defs {
		d := d
		add := func() {
			s.mu.Lock()
			c := s.c
			s.mu.Unlock()
			if c == nil {
				return
			}
			_, _ = c.AddFunc("@every "+d.every.String(), func() {
				s.enqueue(task{name: d.name, job: d.job})
			})
		}
		if d.delay > 0 {
			s.timers = append(s.timers, time.AfterFunc(d.delay, add))
		} else {
			add()
		}
	}

	stopCh := s.stopCh
	queue := s.queue
	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(ctx, stopCh, queue)
	}()

	s.c.Start()
	s.log.Info("ticker started", logx.Int("jobs", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	c := s.c
	timers := s.timers
	s.stopCh = nil
	s.c = nil
	s.timers = nil
	s.mu.Unlock()

	for _, t := range timers {
		_ = t.Stop()
	}
	close(stopCh)
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.workerWG.Wait()
	s.log.Info("ticker stopped")
}

func (s *Service) enqueue(t task) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- t:
	default:
		// A stalled worker means the tick is stale by the time it
		// would run; the next interval covers it.
		s.log.Warn("ticker queue full, dropping tick", logx.String("job", t.name))
	}
}

func (s *Service) worker(ctx context.Context, stopCh chan struct{}, queue chan task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.runOne(ctx, t)
		}
	}
}

func (s *Service) runOne(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in ticker job",
				logx.String("job", t.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	t.job(ctx)
}
