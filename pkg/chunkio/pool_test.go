package chunkio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

type memStore struct {
	mu   sync.Mutex
	cols map[chunk.Pos]*chunk.Column
}

func newMemStore() *memStore {
	return &memStore{cols: make(map[chunk.Pos]*chunk.Column)}
}

func (m *memStore) LoadChunk(_ context.Context, pos chunk.Pos) (*chunk.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cols[pos]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *memStore) SaveChunk(_ context.Context, col *chunk.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols[col.Pos] = col.Clone()
	return nil
}

func (m *memStore) DeleteChunk(_ context.Context, pos chunk.Pos) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cols[pos]; !ok {
		return ErrNotFound
	}
	delete(m.cols, pos)
	return nil
}

func startPool(t *testing.T, store Store, workers int) *Pool {
	t.Helper()
	p := NewPool(store, workers, 64, zap.NewNop())
	p.Start(context.Background())
	t.Cleanup(p.Close)
	return p
}

func TestPoolSaveLoadDelete(t *testing.T) {
	store := newMemStore()
	p := startPool(t, store, 4)
	ctx := context.Background()

	col := chunk.NewColumn(chunk.Pos{X: 3, Z: -2})
	col.SetBlock(1, 2, 3, 5<<4)

	save := Save(col, 0)
	require.NoError(t, p.Submit(ctx, save))
	_, err := save.Await(ctx)
	require.NoError(t, err)

	load := Load(col.Pos, 0)
	require.NoError(t, p.Submit(ctx, load))
	got, err := load.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(5<<4), got.Block(1, 2, 3))

	del := Delete(col.Pos, 0)
	require.NoError(t, p.Submit(ctx, del))
	_, err = del.Await(ctx)
	require.NoError(t, err)

	missing := Load(col.Pos, 0)
	require.NoError(t, p.Submit(ctx, missing))
	_, err = missing.Await(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPoolSurvivesPanics(t *testing.T) {
	p := startPool(t, newMemStore(), 1)
	ctx := context.Background()

	bad := NewRequest(chunk.Pos{}, KindLoad, 0, func(context.Context, Store) (int, error) {
		panic("boom")
	})
	require.NoError(t, p.Submit(ctx, bad))
	_, err := bad.Await(ctx)
	assert.ErrorContains(t, err, "panicked")

	failing := NewRequest(chunk.Pos{}, KindLoad, 0, func(context.Context, Store) (int, error) {
		return 0, errors.New("disk on fire")
	})
	require.NoError(t, p.Submit(ctx, failing))
	_, err = failing.Await(ctx)
	assert.EqualError(t, err, "disk on fire")

	ok := NewRequest(chunk.Pos{}, KindLoad, 0, func(context.Context, Store) (int, error) { return 1, nil })
	require.NoError(t, p.Submit(ctx, ok))
	v, err := ok.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPoolRunsHighPriorityFirst(t *testing.T) {
	p := NewPool(newMemStore(), 1, 16, zap.NewNop())
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	record := func(prio int) *Request[int] {
		return NewRequest(chunk.Pos{}, KindLoad, prio, func(context.Context, Store) (int, error) {
			mu.Lock()
			order = append(order, prio)
			mu.Unlock()
			return prio, nil
		})
	}

	// Queue everything before any worker runs.
	reqs := []*Request[int]{record(-4), record(0), record(-1), record(7)}
	for _, r := range reqs {
		require.NoError(t, p.Submit(ctx, r))
	}
	p.Start(ctx)
	defer p.Close()

	for _, r := range reqs {
		_, err := r.Await(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{7, 0, -1, -4}, order)
}

func TestPoolCloseFailsPending(t *testing.T) {
	p := NewPool(newMemStore(), 1, 8, zap.NewNop())
	ctx := context.Background()

	r := Load(chunk.Pos{X: 1}, 0)
	require.NoError(t, p.Submit(ctx, r))
	p.Close()

	_, err := r.Await(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)

	late := Load(chunk.Pos{X: 2}, 0)
	assert.ErrorIs(t, p.Submit(ctx, late), ErrQueueClosed)
	select {
	case <-late.Done():
	case <-time.After(time.Second):
		t.Fatal("rejected request left unresolved")
	}
}
