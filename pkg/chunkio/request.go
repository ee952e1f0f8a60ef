// Package chunkio schedules chunk loads, saves and deletes on a bounded
// priority queue served by a pool of workers.
package chunkio

import (
	"context"
	"fmt"
	"sync"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

// Kind is the operation a request performs.
type Kind uint8

const (
	KindLoad Kind = iota
	KindSave
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindSave:
		return "save"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Task is what the queue holds and the workers run.
type Task interface {
	Pos() chunk.Pos
	Kind() Kind
	Priority() int
	// Run performs the operation and resolves the task.
	Run(ctx context.Context, s Store)
	// Fail resolves the task with err without running it.
	Fail(err error)
}

// Request is a chunk operation whose result is delivered once to any number
// of waiters and listeners.
type Request[T any] struct {
	pos      chunk.Pos
	kind     Kind
	priority int
	op       func(ctx context.Context, s Store) (T, error)

	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	listeners []func(T, error)
}

// NewRequest wraps op. Higher priority runs first.
func NewRequest[T any](pos chunk.Pos, kind Kind, priority int, op func(context.Context, Store) (T, error)) *Request[T] {
	return &Request[T]{
		pos:      pos,
		kind:     kind,
		priority: priority,
		op:       op,
		done:     make(chan struct{}),
	}
}

func (r *Request[T]) Pos() chunk.Pos { return r.pos }
func (r *Request[T]) Kind() Kind     { return r.kind }
func (r *Request[T]) Priority() int  { return r.priority }

func (r *Request[T]) String() string {
	return fmt.Sprintf("%s %s (priority %d)", r.kind, r.pos, r.priority)
}

// Done is closed once the request is resolved.
func (r *Request[T]) Done() <-chan struct{} { return r.done }

// SetResult resolves the request. Only the first call has an effect; it wakes
// all waiters and then runs the listeners in registration order on the
// calling goroutine.
func (r *Request[T]) SetResult(v T, err error) bool {
	r.mu.Lock()
	if r.resolved {
		r.mu.Unlock()
		return false
	}
	r.resolved = true
	r.value, r.err = v, err
	listeners := r.listeners
	r.listeners = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(v, err)
	}
	return true
}

// OnComplete registers fn to run when the request resolves. If it already
// has, fn runs immediately.
func (r *Request[T]) OnComplete(fn func(T, error)) {
	r.mu.Lock()
	if !r.resolved {
		r.listeners = append(r.listeners, fn)
		r.mu.Unlock()
		return
	}
	v, err := r.value, r.err
	r.mu.Unlock()
	fn(v, err)
}

// Await blocks until the request resolves or ctx ends.
func (r *Request[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved reports whether SetResult has been called.
func (r *Request[T]) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Run executes the operation against s and resolves the request.
func (r *Request[T]) Run(ctx context.Context, s Store) {
	if err := ctx.Err(); err != nil {
		r.Fail(err)
		return
	}
	v, err := r.op(ctx, s)
	r.SetResult(v, err)
}

// Fail resolves the request with err and the zero value.
func (r *Request[T]) Fail(err error) {
	var zero T
	r.SetResult(zero, err)
}

// Load reads the column at pos. A missing chunk resolves with ErrNotFound.
func Load(pos chunk.Pos, priority int) *Request[*chunk.Column] {
	return NewRequest(pos, KindLoad, priority, func(ctx context.Context, s Store) (*chunk.Column, error) {
		return s.LoadChunk(ctx, pos)
	})
}

// Save writes col. The column must not be mutated until the request resolves;
// pass a Clone when the caller keeps using it.
func Save(col *chunk.Column, priority int) *Request[struct{}] {
	return NewRequest(col.Pos, KindSave, priority, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.SaveChunk(ctx, col)
	})
}

// Delete removes the stored column at pos.
func Delete(pos chunk.Pos, priority int) *Request[struct{}] {
	return NewRequest(pos, KindDelete, priority, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.DeleteChunk(ctx, pos)
	})
}
