package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mysqlops/mysqlbackup/pkg/wait"
)

const DefaultPollInterval = 500 * time.Millisecond

// Metrics records the outcome of pipeline runs.
type Metrics interface {
	ObserveRun(pipeline string, duration time.Duration, err error)
	StageFailed(pipeline, stage string)
}

type ExecutorOpts struct {
	PollInterval time.Duration
	Metrics      Metrics
}

type ExecutorOpt func(*ExecutorOpts)

func WithPollInterval(interval time.Duration) ExecutorOpt {
	return func(eo *ExecutorOpts) {
		eo.PollInterval = interval
	}
}

func WithMetrics(metrics Metrics) ExecutorOpt {
	return func(eo *ExecutorOpts) {
		eo.Metrics = metrics
	}
}

type Executor struct {
	opts   ExecutorOpts
	logger logr.Logger
}

func NewExecutor(logger logr.Logger, executorOpts ...ExecutorOpt) (*Executor, error) {
	opts := ExecutorOpts{
		PollInterval: DefaultPollInterval,
	}
	for _, setOpt := range executorOpts {
		setOpt(&opts)
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("poll interval must be greater than zero")
	}
	return &Executor{
		opts:   opts,
		logger: logger.WithName("pipeline"),
	}, nil
}

// Run starts the stages in order, connecting the output of each stage to the input of the next one,
// and supervises them until all of them have exited. The first stage observed exiting non-zero
// fails the run: every other live stage is terminated and waited for before returning a *StageError.
// Checks are run once all stages have exited zero.
func (e *Executor) Run(ctx context.Context, stages []Stage, checks ...Check) (err error) {
	if len(stages) == 0 {
		return errors.New("no stages provided")
	}
	name := pipelineName(stages)
	logger := e.logger.WithValues("run", uuid.NewString(), "pipeline", name)
	start := time.Now()
	defer func() {
		if e.opts.Metrics == nil {
			return
		}
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			e.opts.Metrics.StageFailed(name, stageErr.Stage)
		}
		e.opts.Metrics.ObserveRun(name, time.Since(start), err)
	}()

	r := &run{
		stages: stages,
		exited: make([]bool, len(stages)),
		logger: logger,
	}
	logger.Info("Starting pipeline")

	if err := r.start(); err != nil {
		return err
	}

	if err := wait.PollUntilDone(ctx, e.opts.PollInterval, r.poll); err != nil {
		logger.Info("Terminating pipeline", "err", err)
		if termErr := r.terminate(); termErr != nil {
			logger.Error(termErr, "Error terminating stages")
		}
		if IsStageError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPipelineCancelled, err)
	}

	for i, check := range checks {
		logger.V(1).Info("Running check", "check", check.Name)
		if err := check.Run(ctx); err != nil {
			return &StageError{
				Index: len(stages) + i,
				Stage: check.Name,
				Err:   err,
			}
		}
	}
	logger.Info("Pipeline completed", "duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

type run struct {
	stages []Stage
	exited []bool
	logger logr.Logger
}

func (r *run) start() error {
	var stdin io.Reader
	for i, stage := range r.stages {
		last := i == len(r.stages)-1
		stdout, err := stage.Start(stdin, !last)
		if err != nil {
			// The read end of the previous stage has no consumer, closing it unblocks its writer.
			if c, ok := stdin.(io.Closer); ok {
				c.Close()
			}
			for j := range r.stages[i:] {
				r.exited[i+j] = true
			}
			if termErr := r.terminate(); termErr != nil {
				r.logger.Error(termErr, "Error terminating stages")
			}
			return &StageError{
				Index: i,
				Stage: stage.Name(),
				Err:   fmt.Errorf("error starting stage: %w", err),
			}
		}
		r.logger.V(1).Info("Stage started", "stage", stage.Name(), "index", i)
		stdin = stdout
	}
	return nil
}

func (r *run) poll(ctx context.Context) (bool, error) {
	done := true
	for i, stage := range r.stages {
		if r.exited[i] {
			continue
		}
		exited, err := stage.Poll()
		if !exited {
			done = false
			continue
		}
		r.exited[i] = true
		if err != nil {
			r.logger.Info("Stage failed", "stage", stage.Name(), "index", i, "err", err)
			return false, &StageError{
				Index:       i,
				Stage:       stage.Name(),
				Err:         err,
				Diagnostics: stage.Diagnostics(),
			}
		}
		r.logger.V(1).Info("Stage exited", "stage", stage.Name(), "index", i)
	}
	return done, nil
}

// terminate signals every live stage and waits for all of them to exit.
func (r *run) terminate() error {
	var errBundle *multierror.Error
	for i, stage := range r.stages {
		if r.exited[i] {
			continue
		}
		r.logger.V(1).Info("Terminating stage", "stage", stage.Name(), "index", i)
		if err := stage.Terminate(); err != nil {
			errBundle = multierror.Append(errBundle, fmt.Errorf("error terminating stage %s: %v", stage.Name(), err))
		}
	}
	for i, stage := range r.stages {
		if r.exited[i] {
			continue
		}
		if err := stage.Wait(); err != nil {
			r.logger.V(1).Info("Terminated stage exited", "stage", stage.Name(), "err", err)
		}
		r.exited[i] = true
	}
	return errBundle.ErrorOrNil()
}

func pipelineName(stages []Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return strings.Join(names, "|")
}
