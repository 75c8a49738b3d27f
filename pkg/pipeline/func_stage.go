package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FuncStage runs an in-process producer or consumer, such as an object storage transfer.
type FuncStage struct {
	name string
	fn   func(ctx context.Context, stdin io.Reader, stdout io.Writer) error

	cancel context.CancelFunc
	stdin  io.Reader
	stdout *os.File
	done   chan struct{}
	mux    sync.Mutex
	err    error
	tail   *tailBuffer
}

func NewFuncStage(name string, fn func(ctx context.Context, stdin io.Reader, stdout io.Writer) error) *FuncStage {
	return &FuncStage{
		name: name,
		fn:   fn,
		done: make(chan struct{}),
		tail: newTailBuffer(defaultTailSize),
	}
}

func (s *FuncStage) Name() string {
	return s.name
}

func (s *FuncStage) Start(stdin io.Reader, pipeStdout bool) (io.ReadCloser, error) {
	if s.cancel != nil {
		return nil, errors.New("stage already started")
	}
	if stdin == nil {
		stdin = eofReader{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stdin = stdin

	// A kernel pipe makes writes fail with EPIPE once the downstream reader is gone.
	var stdout, w *os.File
	if pipeStdout {
		pr, pw, err := os.Pipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("error creating stdout pipe: %v", err)
		}
		stdout, w = pr, pw
		s.stdout = pw
	}

	go func() {
		var out io.Writer = io.Discard
		if w != nil {
			out = w
		}
		err := s.fn(ctx, stdin, out)
		cancel()
		if err != nil {
			_, _ = s.tail.Write([]byte(err.Error()))
		}
		if w != nil {
			w.Close()
		}
		if c, ok := stdin.(io.Closer); ok {
			c.Close()
		}
		s.mux.Lock()
		s.err = err
		s.mux.Unlock()
		close(s.done)
	}()
	if stdout == nil {
		return nil, nil
	}
	return stdout, nil
}

func (s *FuncStage) Poll() (bool, error) {
	select {
	case <-s.done:
		s.mux.Lock()
		defer s.mux.Unlock()
		return true, s.err
	default:
		return false, nil
	}
}

// Terminate cancels the context handed to the stage function and closes its input and output,
// which unblocks any pending read or write.
func (s *FuncStage) Terminate() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	if c, ok := s.stdin.(io.Closer); ok {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	if s.stdout != nil {
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *FuncStage) Wait() error {
	if s.cancel == nil {
		return errors.New("stage not started")
	}
	<-s.done
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.err
}

func (s *FuncStage) Diagnostics() string {
	return s.tail.String()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}
