package process

import (
	"errors"
	"fmt"
)

// ErrProcessExited is returned when writing to or signalling a process that
// has already terminated.
var ErrProcessExited = errors.New("process has already exited")

// SpawnError reports that the OS refused to create the process at all, as
// opposed to a process that started and then exited on its own.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err (or anything it wraps) is a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
