//go:build !windows

package watch

import (
	"errors"
	"fmt"
	"syscall"
)

func isProcessRunning(pid int) bool {
	err := syscall.Kill(pid, syscall.Signal(0))
	// EPERM: alive, owned by another user
	return err == nil || errors.Is(err, syscall.EPERM)
}

// terminate asks the watcher to stop through its signal context
func terminate(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal watcher process %d: %w", pid, err)
	}
	return nil
}
