package pipeline

import (
	"errors"
	"fmt"
)

var ErrPipelineCancelled = errors.New("pipeline cancelled")

// StageError identifies the stage that made a pipeline fail. Checks are indexed after the stages.
type StageError struct {
	Index       int
	Stage       string
	Err         error
	Diagnostics string
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %d (%s) failed: %v", e.Index, e.Stage, e.Err)
	if e.Diagnostics != "" {
		msg += fmt.Sprintf("\n%s", e.Diagnostics)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError reports whether err was raised by a stage or a check.
func IsStageError(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr)
}
