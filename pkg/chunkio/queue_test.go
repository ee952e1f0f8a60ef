package chunkio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

func task(x int32, prio int) *Request[*chunk.Column] {
	return Load(chunk.Pos{X: x}, prio)
}

func TestQueueOrdersByPriorityThenSubmission(t *testing.T) {
	q := NewQueue(16)
	ctx := context.Background()

	pushes := []struct {
		x    int32
		prio int
	}{
		{1, 0}, {2, 5}, {3, -3}, {4, 5}, {5, 0}, {6, 10},
	}
	for _, p := range pushes {
		require.NoError(t, q.Push(ctx, task(p.x, p.prio)))
	}

	var got []int32
	for q.Len() > 0 {
		tk, err := q.Pop(ctx)
		require.NoError(t, err)
		got = append(got, tk.Pos().X)
	}
	assert.Equal(t, []int32{6, 2, 4, 1, 5, 3}, got)
}

func TestQueuePushBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, task(1, 0)))
	assert.ErrorIs(t, q.TryPush(task(2, 0)), ErrQueueFull)

	pushed := make(chan error, 1)
	go func() { pushed <- q.Push(ctx, task(2, 0)) }()

	select {
	case <-pushed:
		t.Fatal("push did not block on a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	tk, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), tk.Pos().X)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("push stayed blocked after a pop")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueuePushContext(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push(context.Background(), task(1, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, task(2, 0)), context.DeadlineExceeded)
}

func TestQueueCloseUnblocksAndReturnsPending(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	popped := make(chan error, 1)
	empty := NewQueue(1)
	go func() {
		_, err := empty.Pop(ctx)
		popped <- err
	}()
	time.Sleep(10 * time.Millisecond)
	empty.Close()
	assert.ErrorIs(t, <-popped, ErrQueueClosed)

	require.NoError(t, q.Push(ctx, task(1, 1)))
	require.NoError(t, q.Push(ctx, task(2, 2)))
	pending := q.Close()
	require.Len(t, pending, 2)
	assert.Equal(t, int32(2), pending[0].Pos().X)

	assert.ErrorIs(t, q.Push(ctx, task(3, 0)), ErrQueueClosed)
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Nil(t, q.Close())
}
