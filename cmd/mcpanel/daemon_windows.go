//go:build windows

package main

import (
	"os"
	"syscall"
)

// console close, logoff and shutdown events arrive as SIGTERM
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

const detachedProcess = 0x00000008 // DETACHED_PROCESS

// detachedAttrs starts the daemon without a console, in a process group of
// its own so Ctrl+C in the launching console does not reach it.
func detachedAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
		HideWindow:    true,
	}
}
