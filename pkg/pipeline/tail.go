package pipeline

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const defaultTailSize = 4096

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mux  sync.Mutex
	size int
	buf  []byte
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{
		size: size,
	}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mux.Lock()
	defer t.mux.Unlock()

	n := len(p)
	if n >= t.size {
		t.buf = append(t.buf[:0], p[n-t.size:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if overflow := len(t.buf) - t.size; overflow > 0 {
		t.buf = t.buf[overflow:]
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mux.Lock()
	defer t.mux.Unlock()
	return string(t.buf)
}

func readFileTail(path string, size int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening file: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("error getting file info: %v", err)
	}
	offset := info.Size() - size
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("error seeking file: %v", err)
	}
	bytes, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("error reading file: %v", err)
	}
	return string(bytes), nil
}
