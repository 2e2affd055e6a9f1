package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Stream identifies which output pipe a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// StderrPrefix tags lines read from the child's stderr.
const StderrPrefix = "[STDERR] "

// DefaultStopCommand is written to stdin on a graceful kill.
const DefaultStopCommand = "stop"

// Line is one newline-delimited chunk of child output.
type Line struct {
	Text   string
	Stream Stream
}

// KillMode selects how Kill asks the child to terminate.
type KillMode int

const (
	// Graceful writes the stop command to stdin and lets the child exit on its own.
	Graceful KillMode = iota
	// Forceful sends an OS-level kill to the child's process group.
	Forceful
)

func (m KillMode) String() string {
	if m == Forceful {
		return "forceful"
	}
	return "graceful"
}

// Options describe how to spawn a child process.
type Options struct {
	Path        string   // executable, resolved via exec.LookPath
	Args        []string // arguments, not including the executable
	Dir         string   // working directory
	Env         []string // optional environment; inherits the parent's when empty
	StopCommand string   // written on a graceful kill (default "stop")
}

// Handle wraps one spawned OS process with piped stdio.
// It owns the process: nothing else may wait on or signal it.
type Handle struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	lines       chan Line
	done        chan struct{}
	startedAt   time.Time
	stopCommand string

	mu       sync.Mutex
	exited   bool
	exitCode int
	exitErr  error
}

const lineBuffer = 256

// Spawn starts the process described by opts with stdin, stdout and stderr all
// redirected to pipes. Failures to locate or execute the binary are returned as
// *SpawnError.
func Spawn(opts Options) (*Handle, error) {
	path, err := exec.LookPath(opts.Path)
	if err != nil {
		return nil, &SpawnError{Path: opts.Path, Err: err}
	}
	// #nosec G204
	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	stop := opts.StopCommand
	if stop == "" {
		stop = DefaultStopCommand
	}
	h := &Handle{
		cmd:         cmd,
		stdin:       stdin,
		lines:       make(chan Line, lineBuffer),
		done:        make(chan struct{}),
		startedAt:   time.Now(),
		stopCommand: stop,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go h.readLines(stdout, Stdout, &wg)
	go h.readLines(stderr, Stderr, &wg)
	go func() {
		// cmd.Wait closes the pipes, so both readers must drain first.
		wg.Wait()
		close(h.lines)
		h.markExited(cmd.Wait())
	}()
	return h, nil
}

func (h *Handle) readLines(r io.Reader, s Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			h.emit(text, s)
		}
		if err != nil {
			return
		}
	}
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)

func (h *Handle) emit(raw string, s Stream) {
	text := ansiRegex.ReplaceAllString(strings.TrimRight(raw, "\r\n"), "")
	if strings.TrimSpace(text) == "" {
		return
	}
	if s == Stderr {
		text = StderrPrefix + text
	}
	h.lines <- Line{Text: text, Stream: s}
}

func (h *Handle) markExited(err error) {
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.exitCode = exitCodeOf(h.cmd, err)
	h.mu.Unlock()
	_ = h.stdin.Close()
	close(h.done)
}

// Lines delivers output lines in per-stream order. It is closed once both
// streams reach EOF, before Done is closed.
func (h *Handle) Lines() <-chan Line { return h.lines }

// Done is closed exactly once after the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// ExitCode is valid after Done is closed. Deaths by signal report 128+signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// ExitErr is the error returned by cmd.Wait, if any.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) StartedAt() time.Time { return h.startedAt }

// WriteLine writes text plus a trailing newline to the child's stdin.
func (h *Handle) WriteLine(text string) error {
	if h.Exited() {
		return ErrProcessExited
	}
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		if h.Exited() {
			return ErrProcessExited
		}
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Kill asks the process to terminate. Killing an exited process is a no-op.
func (h *Handle) Kill(mode KillMode) error {
	if mode == Graceful {
		err := h.WriteLine(h.stopCommand)
		if errors.Is(err, ErrProcessExited) {
			return nil
		}
		return err
	}
	if h.Exited() {
		return nil
	}
	return killGroup(h.cmd)
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code, ok := signalExitCode(ee); ok {
			return code
		}
		return ee.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
