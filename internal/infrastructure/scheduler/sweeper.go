package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionExpirer closes upload sessions untouched since before.
type SessionExpirer interface {
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically expires abandoned upload sessions.
type Sweeper struct {
	sessions SessionExpirer
	ttl      time.Duration
	timeout  time.Duration
	cron     *cron.Cron
	now      func() time.Time
	onSweep  func(expired int64, err error)

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type Options struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@every 5m".
	Schedule string
	TTL      time.Duration
	Timeout  time.Duration
	// OnSweep observes every run, e.g. for metrics.
	OnSweep func(expired int64, err error)
}

func NewSweeper(sessions SessionExpirer, opts Options) (*Sweeper, error) {
	if opts.Schedule == "" {
		opts.Schedule = "@every 5m"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	s := &Sweeper{
		sessions: sessions,
		ttl:      opts.TTL,
		timeout:  opts.Timeout,
		now:      func() time.Time { return time.Now().UTC() },
		onSweep:  opts.OnSweep,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
	if _, err := s.cron.AddFunc(opts.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule session sweeper %q: %w", opts.Schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx ends or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("session_sweeper_started", "ttl", s.ttl.String())
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	slog.Info("session_sweeper_stopped")
}

// Sweep expires sessions idle for longer than the TTL.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl)
	n, err := s.sessions.ExpireStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	return n, nil
}

func (s *Sweeper) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		slog.Error("session_sweep_failed", "error", err)
	} else if n > 0 {
		slog.Info("session_sweep_expired", "count", n)
	}
	if s.onSweep != nil {
		s.onSweep(n, err)
	}
}
