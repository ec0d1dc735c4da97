package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentcouncil/testutil"
)

func TestGoroutinePool_SubmitRunsAndDrainsOnClose(t *testing.T) {
	p := NewGoroutinePool(Config{MaxWorkers: 2, QueueSize: 16}, nil)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), "count", func(context.Context) error {
			time.Sleep(time.Millisecond)
			done.Add(1)
			return nil
		}))
	}
	p.Close()

	assert.Equal(t, int32(10), done.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.ErrorIs(t, p.Submit(context.Background(), "late", func(context.Context) error { return nil }), ErrPoolClosed)
}

func TestGoroutinePool_SubmitDetachesFromCallerCancel(t *testing.T) {
	p := NewGoroutinePool(DefaultConfig(), nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	seen := make(chan error, 1)
	release := make(chan struct{})
	require.NoError(t, p.Submit(ctx, "detached", func(ctx context.Context) error {
		<-release
		assert.Equal(t, "v", ctx.Value(ctxKey{}))
		seen <- ctx.Err()
		return nil
	}))
	cancel()
	close(release)

	err, ok := testutil.WaitForChannel[error](seen, time.Second)
	require.True(t, ok)
	assert.NoError(t, err)
}

type ctxKey struct{}

func TestGoroutinePool_TaskTimeout(t *testing.T) {
	p := NewGoroutinePool(Config{MaxWorkers: 1, QueueSize: 1, TaskTimeout: 20 * time.Millisecond}, nil)
	defer p.Close()

	err := p.SubmitWait(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_Full(t *testing.T) {
	p := NewGoroutinePool(Config{MaxWorkers: 1, QueueSize: 1}, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "blocker", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	_, ok := testutil.WaitForChannel[struct{}](started, time.Second)
	require.True(t, ok)

	require.NoError(t, p.Submit(context.Background(), "queued", func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Submit(context.Background(), "overflow", func(context.Context) error { return nil }), ErrPoolFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(block)
	p.Close()
}

func TestGoroutinePool_PanicIsRecovered(t *testing.T) {
	p := NewGoroutinePool(DefaultConfig(), nil)
	defer p.Close()

	err := p.SubmitWait(context.Background(), "panics", func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	want := errors.New("plain")
	assert.ErrorIs(t, p.SubmitWait(context.Background(), "fails", func(context.Context) error { return want }), want)
}
