package world

import (
	"sync"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

// LoadEvent describes one attempt to bring a chunk into memory. Listeners
// registered on the manager see it once the attempt finishes.
type LoadEvent struct {
	Pos chunk.Pos
	// Generated is set when the chunk was not stored and had to be generated.
	Generated bool

	mu        sync.Mutex
	cancelled bool
	err       error
}

// Cancel marks the event as cancelled with the reason err.
func (e *LoadEvent) Cancel(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
	e.err = err
}

// Cancelled reports whether the load was abandoned.
func (e *LoadEvent) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Err returns the cancellation reason, if any.
func (e *LoadEvent) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
