package pipeline

import (
	"context"
	"io"
)

// Stage is one process of a pipeline. Stages are owned by the Executor for the lifetime of a run.
type Stage interface {
	Name() string
	// Start launches the stage reading from stdin, which is nil for the first stage.
	// When pipeStdout is set, the returned reader is the stage output to be fed to the next stage.
	Start(stdin io.Reader, pipeStdout bool) (io.ReadCloser, error)
	// Poll reports whether the stage has exited, and its exit error if so. It never blocks.
	Poll() (bool, error)
	// Terminate asks a running stage to exit.
	Terminate() error
	// Wait blocks until the stage has exited.
	Wait() error
	// Diagnostics returns the tail of the stage error output, if any.
	Diagnostics() string
}

// Check is run once every stage has exited zero.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

func NewCheck(name string, fn func(ctx context.Context) error) Check {
	return Check{
		Name: name,
		Run:  fn,
	}
}
