package volume

import (
	"fmt"
	"time"
)

// RemoteOperationError reports a failure of the provisioning backend
type RemoteOperationError struct {
	Op       string
	VolumeID string
	Err      error
}

func (e *RemoteOperationError) Error() string {
	if e.VolumeID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s of volume %s failed: %v", e.Op, e.VolumeID, e.Err)
}

func (e *RemoteOperationError) Unwrap() error { return e.Err }

// LocalOperationError reports a failed host command or an interrupted wait
type LocalOperationError struct {
	Op     string
	Device string
	Err    error
}

func (e *LocalOperationError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("local %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("local %s of %s failed: %v", e.Op, e.Device, e.Err)
}

func (e *LocalOperationError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its deadline.
// Callers may retry it.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s: %v", e.Op, e.Timeout, e.Err)
	}
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UnsupportedPlatformError is returned when an operation runs on the excluded platform
type UnsupportedPlatformError struct {
	Op       string
	Platform string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("%s is not supported on platform %q", e.Op, e.Platform)
}

// PrivilegeRequiredError is returned when a host operation runs without privileges
type PrivilegeRequiredError struct {
	Op string
}

func (e *PrivilegeRequiredError) Error() string {
	return fmt.Sprintf("%s requires a privileged execution context", e.Op)
}
