package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// JobFunc is a scheduled run. The context is cancelled when the scheduler stops.
type JobFunc func(ctx context.Context) error

type job struct {
	name string
	fn   JobFunc
}

// Scheduler runs jobs on cron schedules, skipping a run while the previous one of the same job is still in progress.
// It is unhealthy while the last run of any job failed.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []job
	logger logr.Logger

	ctx    context.Context
	mux    sync.RWMutex
	errors map[string]error
}

func NewScheduler(logger logr.Logger) *Scheduler {
	logger = logger.WithName("scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger)),
		),
		logger: logger,
		ctx:    context.Background(),
		errors: make(map[string]error),
	}
}

func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	if name == "" || fn == nil {
		return errors.New("job name and func must be provided")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("error parsing schedule \"%s\" of job %s: %v", schedule, name, err)
	}
	j := job{name: name, fn: fn}
	if _, err := s.cron.AddFunc(schedule, func() { s.run(j) }); err != nil {
		return fmt.Errorf("error scheduling job %s: %v", name, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// RunNow runs a job synchronously, outside of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.name == name {
			return s.runWithContext(ctx, j)
		}
	}
	return fmt.Errorf("job %s not found", name)
}

// Start runs the scheduled jobs until the context is cancelled, then waits for the running ones.
func (s *Scheduler) Start(ctx context.Context) {
	s.mux.Lock()
	s.ctx = ctx
	s.mux.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	<-ctx.Done()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) Healthy() error {
	s.mux.RLock()
	defer s.mux.RUnlock()

	var errs []error
	for name, err := range s.errors {
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %v", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(j job) {
	s.mux.RLock()
	ctx := s.ctx
	s.mux.RUnlock()

	_ = s.runWithContext(ctx, j)
}

func (s *Scheduler) runWithContext(ctx context.Context, j job) error {
	logger := s.logger.WithValues("job", j.name)
	logger.Info("Running job")

	err := j.fn(ctx)
	if err != nil {
		logger.Error(err, "Job failed")
	} else {
		logger.Info("Job completed")
	}

	s.mux.Lock()
	s.errors[j.name] = err
	s.mux.Unlock()
	return err
}
