package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonArgsStripsDaemonFlags(t *testing.T) {
	in := []string{"serve", "--daemonize", "--logfile", "/tmp/x.log", "--pidfile=/run/mcpanel.pid", "--config=c.toml", "--logfile=/tmp/y.log"}
	assert.Equal(t, []string{"serve", "--pidfile=/run/mcpanel.pid", "--config=c.toml"}, daemonArgs(in))
	assert.Nil(t, daemonArgs([]string{"--daemonize=true"}))
}

func TestPidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mcpanel.pid")
	require.NoError(t, writePidFile(p, 4242))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "4242", string(b))

	require.NoError(t, removePidFile(p))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, removePidFile(""))
}

func TestWatchStartupReportsEarlyExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	failing := exec.Command("sh", "-c", "exit 2")
	require.NoError(t, failing.Start())
	assert.ErrorContains(t, watchStartup(failing, 5*time.Second), "exited during startup")

	running := exec.Command("sleep", "5")
	require.NoError(t, running.Start())
	defer func() { _ = running.Process.Kill() }()
	assert.NoError(t, watchStartup(running, 50*time.Millisecond))
}

func TestDaemonizedChildDoesNotForkAgain(t *testing.T) {
	t.Setenv(daemonEnv, "1")
	assert.NoError(t, daemonize(""))
}
