package backupjob

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setOpenFilesLimit(limit uint64) error {
	rlimit := unix.Rlimit{
		Cur: limit,
		Max: limit,
	}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return fmt.Errorf("error setting open files limit to %d: %v", limit, err)
	}
	return nil
}
