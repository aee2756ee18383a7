package taskworker

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickerWorkerPauseResume(t *testing.T) {
	var calls atomic.Int32
	w := NewTickerWorker("test", 5*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	go w.Start()
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, calls.Load(), "workers start paused")

	w.Resume()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	w.Pause()
	time.Sleep(20 * time.Millisecond)
	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestTickerWorkerSurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	w := NewTickerWorker("flaky", 5*time.Millisecond, func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("bad")
		}
		return nil
	})
	w.Resume()
	go w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.Runs() >= 3 }, time.Second, 5*time.Millisecond)
}
