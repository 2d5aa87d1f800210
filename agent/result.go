package agent

import (
	"fmt"
	"time"
)

type (
	// ReloadResult is the immutable outcome of one reload cycle.
	ReloadResult struct {
		Success        bool
		Version        uint64
		Swapped        int
		Registered     int //manifest symbols that entered the table with this module
		Skipped        []string //manifest pairs left unapplied, as old->new
		Duration       time.Duration
		Cached         bool //source hash matched the resident module, nothing was loaded
		Output         string
		RenderDuration time.Duration
		RenderErr      error
		Err            error
	}
	// CrashError is a panic recovered from loaded code.
	CrashError struct {
		Value any
		Stack []byte
	}
)

// Error text of the cycle, empty on success.
func (r ReloadResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("panic in loaded code: %v", e.Value)
}

func (e *CrashError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
