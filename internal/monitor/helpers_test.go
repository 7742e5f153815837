package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/t77yq/sentinel/internal/model"
)

var baseTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store down")

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func defaultRule(t *testing.T, id string) model.AlertRule {
	t.Helper()
	for _, r := range DefaultRules() {
		if r.ID == id {
			return r
		}
	}
	require.FailNow(t, "no default rule", id)
	return model.AlertRule{}
}

// failingStore rejects every write
type failingStore struct{}

func (failingStore) Load(ctx context.Context, key string) ([]byte, error) {
	return nil, errStoreDown
}

func (failingStore) Save(ctx context.Context, key string, value []byte) error {
	return errStoreDown
}

func (failingStore) Close() error { return nil }

// stubCheck returns a fixed result or error
type stubCheck struct {
	name   string
	status model.CheckStatus
	err    error
	panics bool
}

func (c *stubCheck) Name() string { return c.name }

func (c *stubCheck) Run(ctx context.Context) (model.CheckResult, error) {
	if c.panics {
		panic("check exploded")
	}
	if c.err != nil {
		return model.CheckResult{}, c.err
	}
	return model.CheckResult{Status: c.status, Message: string(c.status)}, nil
}

// stubSampler returns a fixed sample
type stubSampler struct {
	sample SystemSample
	err    error
}

func (s stubSampler) Sample(ctx context.Context) (*SystemSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.sample
	return &out, nil
}
