package corowork

import (
	"errors"
	"fmt"
)

// Namespace prefixes every sentinel error this module defines, in the style
// of ygrebnov/workers.
const Namespace = "corowork"

// Result is the stable numeric result taxonomy from the external interface
// (spec.md §6): zero means success, every error code is a negative integer.
type Result int8

const (
	ResultOk              Result = 0
	ResultWouldBlock      Result = -1
	ResultDeadline        Result = -2
	ResultCancelled       Result = -3
	ResultClosed          Result = -4
	ResultNotSupported    Result = -5
	ResultInvalidArgument Result = -6
	ResultNoMemory        Result = -7
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultWouldBlock:
		return "WouldBlock"
	case ResultDeadline:
		return "Deadline"
	case ResultCancelled:
		return "Cancelled"
	case ResultClosed:
		return "Closed"
	case ResultNotSupported:
		return "NotSupported"
	case ResultInvalidArgument:
		return "InvalidArgument"
	case ResultNoMemory:
		return "NoMemory"
	default:
		return fmt.Sprintf("Result(%d)", int8(r))
	}
}

// Err converts a Result into an error, returning nil for ResultOk. Channel
// and Select methods return a Result directly (matching spec.md's error
// taxonomy as first-class values); Err exists for call sites that prefer
// ordinary `if err != nil` handling.
func (r Result) Err() error {
	if r == ResultOk {
		return nil
	}
	return &resultError{result: r}
}

type resultError struct{ result Result }

func (e *resultError) Error() string {
	return fmt.Sprintf("%s: %s", Namespace, e.result)
}

// ResultOf extracts the Result carried by an error produced by Result.Err,
// reporting false for any other error (including nil).
func ResultOf(err error) (Result, bool) {
	var re *resultError
	if errors.As(err, &re) {
		return re.result, true
	}
	return ResultOk, false
}

// Sentinel errors for conditions the Result taxonomy doesn't cover: these
// are programmer errors (misuse of the API), not runtime outcomes.
var (
	ErrChannelDestroyedWithWaiters = errors.New(Namespace + ": destroy called on channel with parked waiters")
	ErrScopeDestroyedWithChildren  = errors.New(Namespace + ": destroy called on scope with live children")
	ErrSchedulerShutdown           = errors.New(Namespace + ": scheduler is shutting down")
	ErrTrampolineReentered         = errors.New(Namespace + ": control returned past the coroutine trampoline")
	ErrGuardPageBreach             = errors.New(Namespace + ": stack guard page breached")
	ErrCanaryMismatch              = errors.New(Namespace + ": stack canary mismatch")
)
