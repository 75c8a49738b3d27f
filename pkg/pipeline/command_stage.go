package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/mysqlops/mysqlbackup/pkg/command"
)

type StageOpts struct {
	StderrFile        string
	ParentDeathSignal bool
	Stdout            io.Writer
	Env               []string
	TailSize          int
}

type StageOpt func(*StageOpts)

// WithStderrFile sends the stage error output to a log file, which is left in place after the run.
func WithStderrFile(path string) StageOpt {
	return func(so *StageOpts) {
		so.StderrFile = path
	}
}

// WithParentDeathSignal makes the process receive SIGTERM when this process dies. Only honoured on Linux.
func WithParentDeathSignal() StageOpt {
	return func(so *StageOpts) {
		so.ParentDeathSignal = true
	}
}

func WithStdout(w io.Writer) StageOpt {
	return func(so *StageOpts) {
		so.Stdout = w
	}
}

// WithEnv adds variables to the environment inherited from this process.
func WithEnv(env []string) StageOpt {
	return func(so *StageOpts) {
		so.Env = env
	}
}

// CommandStage runs an OS process.
type CommandStage struct {
	command *command.Command
	opts    StageOpts

	cmd        *exec.Cmd
	stderrFile *os.File
	tail       *tailBuffer

	done chan struct{}
	mux  sync.Mutex
	err  error
}

func NewCommandStage(cmd *command.Command, stageOpts ...StageOpt) (*CommandStage, error) {
	if cmd == nil || len(cmd.Command) == 0 {
		return nil, errors.New("command must be provided")
	}
	opts := StageOpts{
		TailSize: defaultTailSize,
	}
	for _, setOpt := range stageOpts {
		setOpt(&opts)
	}
	return &CommandStage{
		command: cmd,
		opts:    opts,
		tail:    newTailBuffer(opts.TailSize),
		done:    make(chan struct{}),
	}, nil
}

func (s *CommandStage) Name() string {
	return s.command.Name()
}

func (s *CommandStage) Command() *command.Command {
	return s.command
}

// Start launches the process. An *os.File stdin is inherited by the process and closed in this process
// once started, so that the upstream stage gets SIGPIPE if this one exits early.
func (s *CommandStage) Start(stdin io.Reader, pipeStdout bool) (io.ReadCloser, error) {
	if s.cmd != nil {
		return nil, errors.New("stage already started")
	}
	argv := s.command.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	if s.opts.Env != nil {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	if s.opts.ParentDeathSignal {
		setParentDeathSignal(cmd, syscall.SIGTERM)
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	// The read end is owned by the caller, exec.Cmd.StdoutPipe would close it on Wait.
	var stdout, stdoutWriter *os.File
	if pipeStdout {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("error creating stdout pipe: %v", err)
		}
		stdout, stdoutWriter = pr, pw
		cmd.Stdout = pw
	} else {
		cmd.Stdout = s.opts.Stdout
	}
	closePipe := func() {
		if stdout != nil {
			stdout.Close()
			stdoutWriter.Close()
		}
	}

	if s.opts.StderrFile != "" {
		f, err := os.OpenFile(s.opts.StderrFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			closePipe()
			return nil, fmt.Errorf("error opening stderr file: %v", err)
		}
		s.stderrFile = f
		cmd.Stderr = f
	} else {
		cmd.Stderr = s.tail
	}

	if err := cmd.Start(); err != nil {
		closePipe()
		if s.stderrFile != nil {
			s.stderrFile.Close()
		}
		return nil, fmt.Errorf("error starting command: %v", err)
	}
	s.cmd = cmd
	if stdoutWriter != nil {
		stdoutWriter.Close()
	}
	if f, ok := stdin.(*os.File); ok {
		f.Close()
	}

	go s.wait()
	if stdout == nil {
		return nil, nil
	}
	return stdout, nil
}

func (s *CommandStage) wait() {
	err := s.cmd.Wait()
	if s.stderrFile != nil {
		if closeErr := s.stderrFile.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing stderr file: %v", closeErr)
		}
	}

	s.mux.Lock()
	s.err = err
	s.mux.Unlock()
	close(s.done)
}

func (s *CommandStage) Poll() (bool, error) {
	select {
	case <-s.done:
		s.mux.Lock()
		defer s.mux.Unlock()
		return true, s.err
	default:
		return false, nil
	}
}

func (s *CommandStage) Terminate() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if done, _ := s.Poll(); done {
		return nil
	}
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("error sending SIGTERM: %v", err)
	}
	return nil
}

func (s *CommandStage) Wait() error {
	if s.cmd == nil {
		return errors.New("stage not started")
	}
	<-s.done
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.err
}

func (s *CommandStage) Diagnostics() string {
	if s.opts.StderrFile == "" {
		return s.tail.String()
	}
	tail, err := readFileTail(s.opts.StderrFile, int64(s.opts.TailSize))
	if err != nil {
		return fmt.Sprintf("see %s: %v", s.opts.StderrFile, err)
	}
	return fmt.Sprintf("%s (see %s)", tail, s.opts.StderrFile)
}
