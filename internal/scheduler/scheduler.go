package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cexll/notion-boards/internal/reconcile"
)

// Poller runs one poll reconciliation
type Poller interface {
	Poll(ctx context.Context, trigger string) (*reconcile.PollResult, error)
}

// Config controls scheduler behaviour
type Config struct {
	Interval   time.Duration
	RunOnStart bool
	// RunTimeout bounds a single run; zero means no bound.
	RunTimeout time.Duration
}

// Scheduler invokes the poll path on a fixed cadence. A tick that arrives
// while the previous run is still going is skipped.
type Scheduler struct {
	poller Poller
	cfg    Config

	running atomic.Bool
	skipped atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a scheduler with the provided configuration
func New(poller Poller, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Scheduler{
		poller: poller,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches the tick loop. Calling it more than once has no effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	log.Printf("[Scheduler] Polling every %s", s.cfg.Interval)
	if s.cfg.RunOnStart {
		s.tick()
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Printf("[Scheduler] Previous run still in progress, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run()
	}()
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := s.poller.Poll(ctx, "scheduler")
	if err != nil {
		// The next tick is the retry.
		log.Printf("[Scheduler] Poll failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return
	}
	log.Printf("[Scheduler] Poll completed in %s: pages=%d created=%d updated=%d",
		time.Since(start).Round(time.Millisecond), result.Pages, result.Created, result.Updated)
}

// Running reports whether a poll started by the scheduler is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Skipped returns how many ticks were dropped because a run was in progress.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Shutdown stops issuing ticks and waits for an in-flight run to finish or
// for ctx to expire
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		log.Printf("[Scheduler] Shutdown deadline reached with a run still in progress")
	case <-done:
	}
}
