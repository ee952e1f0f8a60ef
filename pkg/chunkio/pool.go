package chunkio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Pool runs queued tasks on a fixed number of workers.
type Pool struct {
	queue   *Queue
	store   Store
	workers int
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool creates a pool over store with the given worker count and queue
// capacity. Call Start before submitting.
func NewPool(store Store, workers, queueSize int, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		queue:   NewQueue(queueSize),
		store:   store,
		workers: workers,
		log:     log.Named("chunkio"),
	}
}

// Start launches the workers. They stop when ctx ends or Close is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.log.Debug("workers started", zap.Int("workers", p.workers))
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		t, err := p.queue.Pop(ctx)
		if err != nil {
			return
		}
		p.run(ctx, id, t)
	}
}

func (p *Pool) run(ctx context.Context, worker int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("chunk task panicked",
				zap.Int("worker", worker),
				zap.Stringer("kind", t.Kind()),
				zap.Int32("cx", t.Pos().X),
				zap.Int32("cz", t.Pos().Z),
				zap.Any("panic", r))
			t.Fail(fmt.Errorf("chunkio: %s %s panicked: %v", t.Kind(), t.Pos(), r))
		}
	}()
	t.Run(ctx, p.store)
}

// Submit queues t, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	if err := p.queue.Push(ctx, t); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			t.Fail(err)
		}
		return err
	}
	return nil
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int { return p.queue.Len() }

// Close stops accepting work, fails every queued task with ErrQueueClosed,
// and waits for running tasks to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		pending := p.queue.Close()
		for _, t := range pending {
			t.Fail(ErrQueueClosed)
		}
		if len(pending) > 0 {
			p.log.Info("dropped queued chunk tasks", zap.Int("count", len(pending)))
		}
		p.wg.Wait()
		if p.cancel != nil {
			p.cancel()
		}
	})
}
