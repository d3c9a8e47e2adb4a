// Package schedule runs background jobs on cron specs. A run that is still
// going when its next tick fires is skipped rather than stacked.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var ErrJobRunning = errors.New("job still running")

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(name string) error
	Start(ctx context.Context)
	Stop()
}

type Option func(*CronScheduler)

// WithJobTimeout bounds every run; zero leaves runs unbounded.
func WithJobTimeout(d time.Duration) Option {
	return func(c *CronScheduler) {
		c.timeout = d
	}
}

type CronScheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*runner
}

// NewCronScheduler accepts five-field specs and descriptors such as
// "@daily" or "@every 1m".
func NewCronScheduler(opts ...Option) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		ctx:     context.Background(),
		runners: make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.runners[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	r := &runner{job: job, spec: spec, sched: c}
	if _, err := c.cron.AddFunc(spec, r.tick); err != nil {
		return fmt.Errorf("schedule job %s with %q: %w", name, spec, err)
	}
	c.runners[name] = r
	logutil.GetLogger(context.Background()).Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start runs the cron loop; jobs receive ctx, cancelled on shutdown.
func (c *CronScheduler) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

// RunNow runs a scheduled job once, outside its schedule, and returns its
// error. It fails with ErrJobRunning when a run is in progress.
func (c *CronScheduler) RunNow(name string) error {
	c.mu.Lock()
	r, ok := c.runners[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not scheduled", name)
	}
	return r.run()
}

// Stop waits for running jobs to return.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

type runner struct {
	job     Job
	spec    string
	sched   *CronScheduler
	running atomic.Bool
}

func (r *runner) tick() {
	_ = r.run()
}

func (r *runner) run() error {
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", r.job.Name()), zap.String("spec", r.spec))
	if !r.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return ErrJobRunning
	}
	defer r.running.Store(false)

	ctx := r.sched.baseContext()
	if r.sched.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sched.timeout)
		defer cancel()
	}
	start := time.Now()
	err := r.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job failed", zap.Error(err), zap.Duration("duration", elapsed))
		return err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return nil
}
