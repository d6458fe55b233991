package kernel

import (
	"errors"
	"strconv"
)

// Error is a kernel status code. The values are the IOS error space and are
// passed through verbatim to the IPC layer.
type Error int32

const (
	ErrAccessDenied Error = -1
	ErrExists       Error = -2
	ErrInterrupted  Error = -3
	ErrInvalidArg   Error = -4
	ErrTooMany      Error = -5
	ErrNotFound     Error = -6
	ErrQueueEmpty   Error = -7
	ErrQueueFull    Error = -8
	ErrNoMemory     Error = -22
)

// ErrBlocked is returned by calls that parked the current thread. The routine
// must return from Step; the call is re-issued when the thread is resumed.
var ErrBlocked = errors.New("kernel: thread blocked")

// Code returns the signed status code.
func (e Error) Code() int32 { return int32(e) }

func (e Error) String() string {
	switch e {
	case ErrAccessDenied:
		return "access denied"
	case ErrExists:
		return "already exists"
	case ErrInterrupted:
		return "interrupted"
	case ErrInvalidArg:
		return "invalid argument"
	case ErrTooMany:
		return "too many"
	case ErrNotFound:
		return "not found"
	case ErrQueueEmpty:
		return "queue empty"
	case ErrQueueFull:
		return "queue full"
	case ErrNoMemory:
		return "out of memory"
	default:
		return "unknown"
	}
}

func (e Error) Error() string {
	return "kernel: " + e.String() + " (" + strconv.Itoa(int(e)) + ")"
}

// Code maps a kernel call result to the status code returned across the
// syscall boundary: 0 for nil, the code for an Error, ErrInvalidArg otherwise.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var e Error
	if errors.As(err, &e) {
		return int32(e)
	}
	return int32(ErrInvalidArg)
}
