package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultPath serializes backups and restores running on the same host.
const DefaultPath = "/tmp/backup_mysql.lock"

var ErrLocked = errors.New("lock held by another process")

type Lock struct {
	file *os.File
}

// Acquire takes an exclusive, non-blocking flock on path. It fails with ErrLocked when another process holds it.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = DefaultPath
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening lock file: %v", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("error locking %s: %v", path, err)
	}
	return &Lock{file: file}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() {
		l.file = nil
	}()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("error unlocking: %v", err)
	}
	return l.file.Close()
}
