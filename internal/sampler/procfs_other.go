//go:build !linux

package sampler

import "errors"

// ProcfsSource is only backed by /proc on Linux.
type ProcfsSource struct{}

func NewProcfsSource() ProcfsSource { return ProcfsSource{} }

func (ProcfsSource) Name() string { return "procfs" }

func (ProcfsSource) Read(int) (Reading, error) {
	return Reading{}, errors.New("procfs is not available on this platform")
}
