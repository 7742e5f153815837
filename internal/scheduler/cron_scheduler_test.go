package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCronScheduler_Register(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Register(FamilyHealth, DefaultHealthInterval, noop))

	err := s.Register(FamilyHealth, DefaultHealthInterval, noop)
	assert.ErrorIs(t, err, ErrDuplicateFamily)

	err = s.Register(FamilyAlert, 0, noop)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	err = s.Register(FamilyAlert, 500*time.Millisecond, noop)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	err = s.Tick(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestCronScheduler_Tick(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))
	tickErr := errors.New("boom")

	var calls int32
	require.NoError(t, s.Register(FamilyAlert, DefaultAlertInterval, func(ctx context.Context) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			return tickErr
		}
		return nil
	}))
	require.NoError(t, s.Register(FamilyReport, DefaultReportInterval, func(ctx context.Context) error {
		panic("report exploded")
	}))

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, s.Tick(context.Background(), FamilyAlert))
	})

	t.Run("Error Recorded", func(t *testing.T) {
		err := s.Tick(context.Background(), FamilyAlert)
		assert.ErrorIs(t, err, tickErr)
	})

	t.Run("Panic Recovered", func(t *testing.T) {
		err := s.Tick(context.Background(), FamilyReport)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report exploded")
	})

	t.Run("Statuses", func(t *testing.T) {
		statuses := s.Statuses()
		require.Len(t, statuses, 2)
		assert.Equal(t, FamilyAlert, statuses[0].Name)
		assert.Equal(t, 2, statuses[0].Runs)
		assert.Equal(t, "boom", statuses[0].LastErr)
		assert.Equal(t, FamilyReport, statuses[1].Name)
		assert.Equal(t, 1, statuses[1].Runs)
	})
}

func TestCronScheduler_SameFamilyDoesNotOverlap(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))

	var running, maxRunning int32
	require.NoError(t, s.Register(FamilyHealth, DefaultHealthInterval, func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Tick(context.Background(), FamilyHealth))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCronScheduler_StartStop(t *testing.T) {
	s := NewCronScheduler(zaptest.NewLogger(t))

	var calls int32
	require.NoError(t, s.Register(FamilyCleanup, time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	err := s.Register(FamilyAlert, time.Second, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) > 0
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
}
