package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/chunkio"
)

// ErrChunkBusy is returned by Unload while a load is still in flight.
var ErrChunkBusy = errors.New("world: chunk is loading")

// ChunkState is the lifecycle of a chunk inside a manager.
type ChunkState uint8

const (
	Unloaded ChunkState = iota
	Loading
	Loaded
	// Unloading chunks are dropped once their last save completes. Loading
	// one again revives the column still in memory.
	Unloading
	Invalid
)

func (s ChunkState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Unloading:
		return "unloading"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("ChunkState(%d)", uint8(s))
}

type slot struct {
	state  ChunkState
	col    *chunk.Column
	dirty  bool
	result *chunkio.Request[*chunk.Column]
	err    error
	// saving is the newest save queued for the chunk. Saves of one chunk run
	// one after another in the order they were queued.
	saving *chunkio.Request[struct{}]
}

// ChunkManager owns the loaded columns of one world. Loads and saves go
// through the chunk I/O pool; chunks that were never stored are generated.
type ChunkManager struct {
	pool *chunkio.Pool
	gen  Generator
	log  *zap.Logger

	mu        sync.Mutex
	slots     map[chunk.Pos]*slot
	listeners []func(*LoadEvent)
}

// NewChunkManager returns a manager submitting I/O to pool.
func NewChunkManager(pool *chunkio.Pool, gen Generator, log *zap.Logger) *ChunkManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChunkManager{
		pool:  pool,
		gen:   gen,
		log:   log,
		slots: make(map[chunk.Pos]*slot),
	}
}

// Listen registers fn to observe every finished load, successful or not.
// Listeners run before the load's waiters are released.
func (m *ChunkManager) Listen(fn func(*LoadEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func resolved(pos chunk.Pos, col *chunk.Column, err error) *chunkio.Request[*chunk.Column] {
	r := chunkio.NewRequest[*chunk.Column](pos, chunkio.KindLoad, 0, nil)
	r.SetResult(col, err)
	return r
}

// Load returns a request resolving to the column at pos. A chunk already
// loading hands back the in-flight request, so a position is read at most
// once at a time. A chunk whose unload save is still pending is served from
// memory rather than read back. Invalid chunks stay invalid until unloaded.
func (m *ChunkManager) Load(ctx context.Context, pos chunk.Pos, priority int) *chunkio.Request[*chunk.Column] {
	m.mu.Lock()
	if s, ok := m.slots[pos]; ok {
		defer m.mu.Unlock()
		switch s.state {
		case Loaded:
			return resolved(pos, s.col, nil)
		case Unloading:
			s.state = Loaded
			return resolved(pos, s.col, nil)
		case Invalid:
			return resolved(pos, nil, s.err)
		default:
			return s.result
		}
	}
	s := &slot{
		state:  Loading,
		result: chunkio.NewRequest[*chunk.Column](pos, chunkio.KindLoad, priority, nil),
	}
	m.slots[pos] = s
	m.mu.Unlock()

	ev := &LoadEvent{Pos: pos}
	load := chunkio.Load(pos, priority)
	load.OnComplete(func(col *chunk.Column, err error) {
		m.finishLoad(ev, s, col, err)
	})
	if err := m.pool.Submit(ctx, load); err != nil {
		load.Fail(err)
	}
	return s.result
}

func (m *ChunkManager) finishLoad(ev *LoadEvent, s *slot, col *chunk.Column, err error) {
	pos := ev.Pos
	log := m.log.With(zap.Int32("cx", pos.X), zap.Int32("cz", pos.Z))

	if errors.Is(err, chunkio.ErrNotFound) {
		col, err = m.gen.Generate(pos), nil
		ev.Generated = true
	}

	m.mu.Lock()
	switch {
	case err == nil:
		s.state, s.col, s.dirty = Loaded, col, ev.Generated
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; nothing is wrong with the chunk.
		delete(m.slots, pos)
		ev.Cancel(err)
	default:
		s.state, s.err = Invalid, err
		ev.Cancel(err)
		log.Error("chunk load failed", zap.Error(err))
	}
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if err == nil {
		log.Debug("chunk loaded", zap.Bool("generated", ev.Generated))
	}
	for _, fn := range listeners {
		fn(ev)
	}
	s.result.SetResult(col, err)
}

// State returns the lifecycle state of pos.
func (m *ChunkManager) State(pos chunk.Pos) ChunkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[pos]; ok {
		return s.state
	}
	return Unloaded
}

// View runs fn on the loaded column at pos while holding the manager lock.
// It reports false when the chunk is not loaded.
func (m *ChunkManager) View(pos chunk.Pos, fn func(*chunk.Column)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[pos]
	if !ok || s.state != Loaded {
		return false
	}
	fn(s.col)
	return true
}

// Update runs fn on the loaded column at pos and marks it dirty when fn
// returns true.
func (m *ChunkManager) Update(pos chunk.Pos, fn func(*chunk.Column) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[pos]
	if !ok || s.state != Loaded {
		return false
	}
	if fn(s.col) {
		s.dirty = true
	}
	return true
}

// Loaded lists the positions of loaded chunks.
func (m *ChunkManager) Loaded() []chunk.Pos {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chunk.Pos, 0, len(m.slots))
	for pos, s := range m.slots {
		if s.state == Loaded {
			out = append(out, pos)
		}
	}
	return out
}

// Failed returns the positions whose last load failed.
func (m *ChunkManager) Failed() []chunk.Pos {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chunk.Pos
	for pos, s := range m.slots {
		if s.state == Invalid {
			out = append(out, pos)
		}
	}
	return out
}

// Dirty reports whether pos has unsaved changes.
func (m *ChunkManager) Dirty(pos chunk.Pos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[pos]
	return ok && s.dirty
}

// queueSave snapshots the column of s and queues its save behind any save of
// the same chunk still in flight. m.mu must be held. The returned submit must
// be called once m.mu is released.
func (m *ChunkManager) queueSave(ctx context.Context, pos chunk.Pos, s *slot, priority int) (*chunkio.Request[struct{}], func() error) {
	req := chunkio.Save(s.col.Clone(), priority)
	req.OnComplete(func(_ struct{}, err error) {
		m.finishSave(pos, s, req, err)
	})
	s.dirty = false

	submit := func() error {
		if err := m.pool.Submit(ctx, req); err != nil {
			req.Fail(err)
			return err
		}
		return nil
	}
	prev := s.saving
	s.saving = req
	if prev == nil {
		return req, submit
	}
	prev.OnComplete(func(struct{}, error) { go submit() })
	return req, func() error { return nil }
}

func (m *ChunkManager) finishSave(pos chunk.Pos, s *slot, req *chunkio.Request[struct{}], err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.log.Error("chunk save failed", zap.Int32("cx", pos.X), zap.Int32("cz", pos.Z), zap.Error(err))
		// Keep the unsaved column rather than losing it.
		s.dirty = true
		if s.state == Unloading {
			s.state = Loaded
		}
	}
	if s.saving != req {
		return
	}
	s.saving = nil
	if s.state == Unloading && m.slots[pos] == s {
		delete(m.slots, pos)
	}
}

// SaveDirty snapshots every dirty chunk and queues a save for it. A failed
// save marks the chunk dirty again.
func (m *ChunkManager) SaveDirty(ctx context.Context, priority int) ([]*chunkio.Request[struct{}], error) {
	m.mu.Lock()
	var (
		reqs    []*chunkio.Request[struct{}]
		submits []func() error
	)
	for pos, s := range m.slots {
		if s.state == Loaded && s.dirty {
			req, submit := m.queueSave(ctx, pos, s, priority)
			reqs = append(reqs, req)
			submits = append(submits, submit)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, submit := range submits {
		if err := submit(); err != nil {
			errs = append(errs, err)
		}
	}
	return reqs, errors.Join(errs...)
}

// Flush saves every dirty chunk and waits for all saves in flight, including
// those queued by Unload. It reports how many saves it waited for.
func (m *ChunkManager) Flush(ctx context.Context, priority int) (int, error) {
	reqs, _ := m.SaveDirty(ctx, priority)

	pending := make(map[*chunkio.Request[struct{}]]struct{}, len(reqs))
	for _, r := range reqs {
		pending[r] = struct{}{}
	}
	m.mu.Lock()
	for _, s := range m.slots {
		if s.saving != nil {
			pending[s.saving] = struct{}{}
		}
	}
	m.mu.Unlock()

	var errs []error
	for r := range pending {
		if _, err := r.Await(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", r.Pos(), err))
		}
	}
	return len(pending), errors.Join(errs...)
}

// settled reports whether r is nil or has completed without error.
func settled(r *chunkio.Request[struct{}]) bool {
	if r == nil {
		return true
	}
	if !r.Resolved() {
		return false
	}
	_, err := r.Await(context.Background())
	return err == nil
}

// Unload drops pos from memory. A dirty chunk is saved first and stays in
// the Unloading state until its saves complete. The returned request is nil
// when nothing had to be written.
func (m *ChunkManager) Unload(ctx context.Context, pos chunk.Pos) (*chunkio.Request[struct{}], error) {
	m.mu.Lock()
	s, ok := m.slots[pos]
	switch {
	case !ok:
		m.mu.Unlock()
		return nil, nil
	case s.state == Loading:
		m.mu.Unlock()
		return nil, ErrChunkBusy
	case s.state == Unloading:
		req := s.saving
		m.mu.Unlock()
		return req, nil
	case s.state == Invalid || (!s.dirty && settled(s.saving)):
		delete(m.slots, pos)
		m.mu.Unlock()
		return nil, nil
	}

	s.state = Unloading
	if !s.dirty {
		req := s.saving
		m.mu.Unlock()
		return req, nil
	}
	req, submit := m.queueSave(ctx, pos, s, 0)
	m.mu.Unlock()
	return req, submit()
}

// Tick stamps loaded chunks accepted by keep (all of them when keep is nil)
// with the current tick.
func (m *ChunkManager) Tick(tick uint64, keep func(chunk.Pos) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for pos, s := range m.slots {
		if s.state != Loaded || (keep != nil && !keep(pos)) {
			continue
		}
		s.col.LastUpdate = int64(tick)
		n++
	}
	return n
}
