package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// daemonEnv marks the re-executed child so it never daemonizes again.
const daemonEnv = "MCPANEL_DAEMONIZED"

// daemonSettle is how long the parent watches the child before reporting
// success; a bad config or a taken port fails well within it.
const daemonSettle = 500 * time.Millisecond

// daemonize re-executes the current command in the background without
// --daemonize and --logfile and exits the parent once the child survived
// startup. The child writes and removes the pid file itself.
func daemonize(logFile string) error {
	if os.Getenv(daemonEnv) == "1" {
		return nil
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// #nosec G204 re-executing ourselves
	cmd := exec.Command(executable, daemonArgs(os.Args[1:])...)
	cmd.SysProcAttr = detachedAttrs()
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.Stdin = nil

	if logFile != "" {
		// #nosec G304 operator-supplied path
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = logF.Close() }()
		cmd.Stdout = logF
		cmd.Stderr = logF
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if err := watchStartup(cmd, daemonSettle); err != nil {
		if logFile != "" {
			return fmt.Errorf("%w (see %s)", err, logFile)
		}
		return err
	}
	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)
	os.Exit(0)
	return nil
}

// watchStartup fails when the started cmd exits within d.
func watchStartup(cmd *exec.Cmd, d time.Duration) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	select {
	case err := <-exited:
		if err == nil {
			return errors.New("daemon exited during startup")
		}
		return fmt.Errorf("daemon exited during startup: %w", err)
	case <-time.After(d):
		return nil
	}
}

// daemonArgs drops --daemonize and --logfile (with its value) from args.
func daemonArgs(args []string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch {
		case arg == "--daemonize" || arg == "--daemonize=true":
			continue
		case arg == "--logfile":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--logfile="):
			continue
		}
		out = append(out, arg)
	}
	return out
}

// writePidFile writes the daemon PID to a file
func writePidFile(pidFile string, pid int) error {
	// #nosec G304 operator-supplied path
	f, err := os.OpenFile(pidFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.WriteString(strconv.Itoa(pid))
	return err
}

// removePidFile removes the PID file
func removePidFile(pidFile string) error {
	if pidFile == "" {
		return nil
	}
	return os.Remove(pidFile)
}
