//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// killGroup sends SIGKILL to the child's process group, falling back to the
// child alone when the group is already gone.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			err = syscall.Kill(pid, syscall.SIGKILL)
			if errors.Is(err, syscall.ESRCH) {
				return nil
			}
		}
		return err
	}
	return nil
}

// signalExitCode maps a death by signal to the shell convention 128+signal.
func signalExitCode(ee *exec.ExitError) (int, bool) {
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return 128 + int(ws.Signal()), true
}
