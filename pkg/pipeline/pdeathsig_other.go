//go:build !linux

package pipeline

import (
	"os/exec"
	"syscall"
)

func setParentDeathSignal(cmd *exec.Cmd, sig syscall.Signal) {}
