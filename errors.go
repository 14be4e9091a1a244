package ccr

import (
	"errors"
	"fmt"
)

var (
	ErrRuntimeClosed     = errors.New("runtime has been closed")
	ErrContainerExists   = errors.New("container already started")
	ErrContainerNotFound = errors.New("container not found")
	ErrNilLoader         = errors.New("bundle loader cannot be nil")
)

var _ error = StopTimeoutError{}

// StopTimeoutError reports a container torn down without acquiring its
// start/stop lock, or whose executor did not drain in time.
type StopTimeoutError struct {
	BundleID int64
	Stage    string
	Cause    error
}

func (e StopTimeoutError) Error() string {
	return fmt.Sprintf("container %d: timed out %s: %v", e.BundleID, e.Stage, e.Cause)
}

func (e StopTimeoutError) Unwrap() error {
	return e.Cause
}
