package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunOnce(ctx context.Context) (arrivals.RunReport, error) {
	r.runs.Add(1)
	return arrivals.RunReport{}, nil
}

func TestSchedulerRunsImmediately(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, time.Hour, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	s := New(&countingRunner{}, 0, nil)
	assert.Error(t, s.Start(context.Background()))
}

func TestSchedulerSkipsRunsAfterCancel(t *testing.T) {
	runner := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(runner, time.Hour, nil)
	require.NoError(t, s.Start(ctx))
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), runner.runs.Load())
}
