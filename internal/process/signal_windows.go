//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

// killGroup terminates the child via TerminateProcess.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// signalExitCode is a no-op on Windows; exit codes are reported as-is.
func signalExitCode(*exec.ExitError) (int, bool) { return 0, false }
