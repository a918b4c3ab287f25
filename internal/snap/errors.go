package snap

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide its scope.
type Kind int

const (
	KindHookFailure Kind = iota + 1
	KindMountFailure
	KindPathTraversal
	KindTransferFailure
	KindTargetAlreadyExists
	KindNoUpdateTarget
	KindRetentionParse
)

func (k Kind) String() string {
	switch k {
	case KindHookFailure:
		return "hook failure"
	case KindMountFailure:
		return "mount failure"
	case KindPathTraversal:
		return "path traversal violation"
	case KindTransferFailure:
		return "transfer failure"
	case KindTargetAlreadyExists:
		return "target already exists"
	case KindNoUpdateTarget:
		return "no update target"
	case KindRetentionParse:
		return "retention parse failure"
	default:
		return "unknown failure"
	}
}

// Error is a classified failure. Status carries the exit status of the
// external process involved, when there was one.
type Error struct {
	Kind   Kind
	Scope  string // hook name, filesystem label or path the failure applies to
	Status int
	Err    error
}

// Sentinels for errors.Is; only Kind is compared.
var (
	ErrHookFailure         = &Error{Kind: KindHookFailure}
	ErrMountFailure        = &Error{Kind: KindMountFailure}
	ErrPathTraversal       = &Error{Kind: KindPathTraversal}
	ErrTransferFailure     = &Error{Kind: KindTransferFailure}
	ErrTargetAlreadyExists = &Error{Kind: KindTargetAlreadyExists}
	ErrNoUpdateTarget      = &Error{Kind: KindNoUpdateTarget}
	ErrRetentionParse      = &Error{Kind: KindRetentionParse}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Scope != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Scope)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (exit status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ExitStatus extracts a process exit status from an error returned by
// running an external command. A nil error is status 0. Errors that do not
// carry an exit code (the command could not be started) are returned as-is.
func ExitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exit interface{ ExitCode() int }
	if errors.As(err, &exit) {
		if code := exit.ExitCode(); code > 0 {
			return code, nil
		}
		// Killed by a signal.
		return 1, nil
	}
	return 0, err
}

// StatusOf maps an error to the exit status it should contribute to the
// process: the carried status for *Error, 1 for any other non-nil error.
func StatusOf(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.Status > 0 {
		return e.Status
	}
	return 1
}
