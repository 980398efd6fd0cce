package blobstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelchat/internal/infra/config"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) Sweep(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(&countingTarget{}, "every hour please", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	target := &countingTarget{}
	sw, err := NewSweeper(target, "@every 1s", discardLogger())
	require.NoError(t, err)

	sw.Start(context.Background())
	sw.Start(context.Background())
	defer sw.Stop()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSweeperStopBeforeStart(t *testing.T) {
	sw, err := NewSweeper(&countingTarget{}, "@every 1h", discardLogger())
	require.NoError(t, err)
	sw.Stop()
}

func TestSweeperRunOnce(t *testing.T) {
	target := &countingTarget{err: errors.New("db closed")}
	sw, err := NewSweeper(target, "@every 1h", discardLogger())
	require.NoError(t, err)

	n, err := sw.RunOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.EqualError(t, err, "db closed")
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestSweeperSkipsAfterContextCancel(t *testing.T) {
	target := &countingTarget{}
	sw, err := NewSweeper(target, "@every 1h", discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)
	cancel()
	sw.run()
	sw.Stop()

	assert.Zero(t, target.calls.Load())
}

func TestSweeperAgainstStore(t *testing.T) {
	s, clock := newTestStore(t, config.BlobConfig{TTL: time.Minute})
	_, err := s.Put(context.Background(), image("x.png", 3))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	sw, err := NewSweeper(s, "@every 1h", discardLogger())
	require.NoError(t, err)
	n, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
