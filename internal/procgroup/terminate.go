package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate stops a process group gracefully: SIGTERM, wait up to grace,
// then SIGKILL. waitCh must deliver the result of the command's Wait; its
// value is returned so the caller sees the true exit error. Safe on nil
// commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	_ = Kill(cmd, syscall.SIGKILL)
	return <-waitCh
}
