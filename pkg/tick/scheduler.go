package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRate is the vanilla tick rate.
const DefaultRate = 20

// Scheduler runs all groups once per tick at a fixed rate.
type Scheduler struct {
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	groups []Group
	tick   uint64
}

// NewScheduler returns a scheduler ticking rate times per second.
func NewScheduler(rate int, log *zap.Logger, groups ...Group) *Scheduler {
	if rate <= 0 {
		rate = DefaultRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		interval: time.Second / time.Duration(rate),
		log:      log.Named("tick"),
		groups:   groups,
	}
}

// Add registers more groups; they take part from the next tick on.
func (s *Scheduler) Add(groups ...Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, groups...)
}

// Current returns the number of completed ticks.
func (s *Scheduler) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Step runs one tick: every group concurrently, then waits for all of them.
// Group errors are logged and joined; they do not stop other groups.
func (s *Scheduler) Step(ctx context.Context) error {
	s.mu.Lock()
	groups := append([]Group(nil), s.groups...)
	n := s.tick
	s.mu.Unlock()

	errs := make([]error, len(groups))
	var g errgroup.Group
	for i, grp := range groups {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					s.log.Error("tick group failed", zap.String("group", grp.Name()), zap.Uint64("tick", n), zap.Error(err))
					errs[i] = fmt.Errorf("%s: %w", grp.Name(), err)
				}
			}()
			return grp.Tick(ctx, n)
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.tick++
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Run ticks until ctx ends. A tick that overruns its slot is logged and the
// next one starts right away; missed ticks are not replayed.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	next := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		start := time.Now()
		_ = s.Step(ctx)
		took := time.Since(start)

		next = next.Add(s.interval)
		if now := time.Now(); now.After(next) {
			if took > s.interval {
				s.log.Warn("tick overrun", zap.Duration("took", took), zap.Duration("budget", s.interval))
			}
			next = now
		}
		timer.Reset(time.Until(next))
	}
}
