package http

import (
	"github.com/GriffinCanCode/rtapi/internal/exception"
	"github.com/GriffinCanCode/rtapi/internal/status"
)

func overrunsOf(t status.Task) int64 {
	switch s := t.Stats.(type) {
	case exception.KernelStats:
		return s.Overruns
	case exception.UspaceStats:
		return s.Overruns
	case exception.PosixStats:
		return s.Overruns
	default:
		return 0
	}
}
