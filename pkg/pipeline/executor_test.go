package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTerminated = errors.New("terminated")

type fakeStage struct {
	name string
	// exitAfter is the number of polls after which the stage exits, zero means it runs until terminated.
	exitAfter int
	exitErr   error
	startErr  error

	started    bool
	stdin      io.Reader
	stdout     io.ReadCloser
	polls      int
	terminated bool
}

func (s *fakeStage) Name() string {
	return s.name
}

func (s *fakeStage) Start(stdin io.Reader, pipeStdout bool) (io.ReadCloser, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started = true
	s.stdin = stdin
	if pipeStdout {
		s.stdout = io.NopCloser(strings.NewReader(s.name))
	}
	return s.stdout, nil
}

func (s *fakeStage) Poll() (bool, error) {
	if s.terminated {
		return true, errTerminated
	}
	s.polls++
	if s.exitAfter > 0 && s.polls >= s.exitAfter {
		return true, s.exitErr
	}
	return false, nil
}

func (s *fakeStage) Terminate() error {
	s.terminated = true
	return nil
}

func (s *fakeStage) Wait() error {
	if s.terminated {
		return errTerminated
	}
	return s.exitErr
}

func (s *fakeStage) Diagnostics() string {
	if s.exitErr != nil {
		return s.name + ": " + s.exitErr.Error()
	}
	return ""
}

func newTestExecutor(t *testing.T) *Executor {
	executor, err := NewExecutor(logr.Discard(), WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	return executor
}

func TestNewExecutor(t *testing.T) {
	_, err := NewExecutor(logr.Discard(), WithPollInterval(0))
	assert.Error(t, err)

	executor, err := NewExecutor(logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, executor.opts.PollInterval)
}

func TestRunFailingStage(t *testing.T) {
	dump := &fakeStage{name: "mysqldump"}
	compress := &fakeStage{name: "pigz", exitAfter: 2, exitErr: errors.New("exit status 1")}
	upload := &fakeStage{name: "gof3r"}

	err := newTestExecutor(t).Run(context.Background(), []Stage{dump, compress, upload})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 1, stageErr.Index)
	assert.Equal(t, "pigz", stageErr.Stage)
	assert.Equal(t, "pigz: exit status 1", stageErr.Diagnostics)
	assert.True(t, dump.terminated, "expected first stage to be terminated")
	assert.True(t, upload.terminated, "expected last stage to be terminated")
	assert.False(t, compress.terminated, "expected failed stage not to be terminated")
}

func TestRunSuccess(t *testing.T) {
	stages := []*fakeStage{
		{name: "mysqldump", exitAfter: 3},
		{name: "pv", exitAfter: 1},
		{name: "gof3r", exitAfter: 5},
	}
	var checked bool
	check := NewCheck("verify", func(ctx context.Context) error {
		checked = true
		return nil
	})

	err := newTestExecutor(t).Run(context.Background(), toStages(stages), check)
	require.NoError(t, err)
	assert.True(t, checked, "expected check to be run")

	for i, s := range stages {
		assert.False(t, s.terminated, "stage %s should not be terminated", s.name)
		if i == 0 {
			assert.Nil(t, s.stdin)
			continue
		}
		require.NotNil(t, s.stdin)
		bytes, err := io.ReadAll(s.stdin)
		require.NoError(t, err)
		assert.Equal(t, stages[i-1].name, string(bytes), "stage %s should read from previous stage", s.name)
	}
	assert.Nil(t, stages[2].stdout, "last stage should not pipe its output")
}

func TestRunFailingCheck(t *testing.T) {
	stages := []*fakeStage{
		{name: "innobackupex", exitAfter: 1},
		{name: "gof3r", exitAfter: 1},
	}
	checks := []Check{
		NewCheck("first", func(ctx context.Context) error { return nil }),
		NewCheck("xtrabackup log", func(ctx context.Context) error { return errors.New("marker not found") }),
	}

	err := newTestExecutor(t).Run(context.Background(), toStages(stages), checks...)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 3, stageErr.Index)
	assert.Equal(t, "xtrabackup log", stageErr.Stage)
}

func TestRunStartError(t *testing.T) {
	download := &fakeStage{name: "gof3r"}
	pv := &fakeStage{name: "pv", startErr: errors.New("executable file not found")}
	extract := &fakeStage{name: "xbstream"}

	err := newTestExecutor(t).Run(context.Background(), []Stage{download, pv, extract})

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, 1, stageErr.Index)
	assert.True(t, download.terminated, "expected started stage to be terminated")
	assert.False(t, extract.started, "expected later stage not to be started")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dump := &fakeStage{name: "mysqldump"}
	upload := &fakeStage{name: "gof3r"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := newTestExecutor(t).Run(ctx, []Stage{dump, upload})

	assert.ErrorIs(t, err, ErrPipelineCancelled)
	assert.False(t, IsStageError(err))
	assert.True(t, dump.terminated)
	assert.True(t, upload.terminated)
}

type fakeMetrics struct {
	runs   int
	failed []string
}

func (m *fakeMetrics) ObserveRun(pipeline string, duration time.Duration, err error) {
	m.runs++
}

func (m *fakeMetrics) StageFailed(pipeline, stage string) {
	m.failed = append(m.failed, pipeline+"/"+stage)
}

func TestRunMetrics(t *testing.T) {
	metrics := &fakeMetrics{}
	executor, err := NewExecutor(logr.Discard(), WithPollInterval(time.Millisecond), WithMetrics(metrics))
	require.NoError(t, err)

	err = executor.Run(context.Background(), []Stage{
		&fakeStage{name: "mysqldump", exitAfter: 1, exitErr: errors.New("exit status 2")},
		&fakeStage{name: "pigz"},
	})
	require.Error(t, err)

	assert.Equal(t, 1, metrics.runs)
	assert.Equal(t, []string{"mysqldump|pigz/mysqldump"}, metrics.failed)
}

func toStages(fakes []*fakeStage) []Stage {
	stages := make([]Stage, len(fakes))
	for i, f := range fakes {
		stages[i] = f
	}
	return stages
}
