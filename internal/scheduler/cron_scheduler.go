// Package scheduler drives periodic tick families on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TickFunc is the work run by one tick of a family
type TickFunc func(ctx context.Context) error

// family is one named tick; its mutex keeps ticks of the same family from overlapping
type family struct {
	name     string
	interval time.Duration
	fn       TickFunc
	entryID  cron.EntryID

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Status reports the last run of a tick family
type Status struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
	Runs     int           `json:"runs"`
	NextRun  time.Time     `json:"next_run"`
}

// CronScheduler runs registered tick families on cron.Every schedules
type CronScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu       sync.RWMutex
	families map[string]*family
	ctx      context.Context
	started  bool
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewCronScheduler creates a new scheduler
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	logger = logger.Named("scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	return &CronScheduler{
		logger:   logger,
		cron:     cron.New(cronOptions...),
		now:      time.Now,
		families: make(map[string]*family),
		ctx:      context.Background(),
	}
}

// Register adds a tick family that runs fn every interval once started.
// Intervals are rounded down to whole seconds; anything under one second is rejected.
func (s *CronScheduler) Register(name string, interval time.Duration, fn TickFunc) error {
	if interval < minInterval {
		return fmt.Errorf("%s: %w", name, ErrInvalidInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, ok := s.families[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateFamily)
	}

	f := &family{name: name, interval: interval, fn: fn}
	f.entryID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.run(s.tickContext(), f)
	}))
	s.families[name] = f

	s.logger.Info("Registered tick family",
		zap.String("family", name),
		zap.Duration("interval", interval))
	return nil
}

// Start begins firing ticks. Ticks receive ctx.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.started = true
	count := len(s.families)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("families", count))
}

// Stop stops firing ticks and waits for running ones to finish
func (s *CronScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Tick runs one family immediately, waiting for any in-flight tick of the
// same family, and returns its error.
func (s *CronScheduler) Tick(ctx context.Context, name string) error {
	s.mu.RLock()
	f, ok := s.families[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownFamily)
	}
	return s.run(ctx, f)
}

// Statuses returns the state of every family, sorted by name
func (s *CronScheduler) Statuses() []Status {
	s.mu.RLock()
	families := make([]*family, 0, len(s.families))
	for _, f := range s.families {
		families = append(families, f)
	}
	s.mu.RUnlock()

	statuses := make([]Status, 0, len(families))
	for _, f := range families {
		f.mu.Lock()
		st := Status{
			Name:     f.name,
			Interval: f.interval,
			LastRun:  f.lastRun,
			Runs:     f.runs,
			NextRun:  s.cron.Entry(f.entryID).Next,
		}
		if f.lastErr != nil {
			st.LastErr = f.lastErr.Error()
		}
		f.mu.Unlock()
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *CronScheduler) tickContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *CronScheduler) run(ctx context.Context, f *family) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick %s panicked: %v", f.name, r)
		}
		f.lastRun = start
		f.lastErr = err
		f.runs++
		if err != nil {
			s.logger.Warn("Tick failed",
				zap.String("family", f.name),
				zap.Error(err))
			return
		}
		s.logger.Debug("Tick completed",
			zap.String("family", f.name),
			zap.Duration("duration", s.now().Sub(start)))
	}()

	return f.fn(ctx)
}
