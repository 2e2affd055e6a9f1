//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop the daemon gracefully. SIGHUP is included so a
// foreground panel whose terminal closes still saves and stops its servers.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// detachedAttrs starts the daemon in its own session without a controlling
// terminal. The servers it spawns get their own process groups below it.
func detachedAttrs() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
