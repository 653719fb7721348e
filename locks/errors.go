package locks

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status is the reason a lock could not be acquired.
type Status int

const (
	// NoLeaderAvailable means that no leader is currently known.
	NoLeaderAvailable Status = iota + 1

	// NotALeader means that this member is not the leader or lost the race for
	// the lock token to another member.
	NotALeader

	// ReplicationFailure means that the lock token request could not be
	// replicated in time.
	ReplicationFailure

	// LostToken means that another member acquired the lock token after this
	// client last validated it.
	LostToken

	// Interrupted means that the caller stopped waiting for the lock token.
	Interrupted
)

func (s Status) String() string {
	switch s {
	case NoLeaderAvailable:
		return "no leader available"
	case NotALeader:
		return "not a leader"
	case ReplicationFailure:
		return "replication failure"
	case LostToken:
		return "lost token"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Sentinel errors to match lock failures against with errors.Is.
var (
	ErrNoLeaderAvailable  = &LockError{Status: NoLeaderAvailable}
	ErrNotALeader         = &LockError{Status: NotALeader}
	ErrReplicationFailure = &LockError{Status: ReplicationFailure}
	ErrLostToken          = &LockError{Status: LostToken}
	ErrInterrupted        = &LockError{Status: Interrupted}
)

// LockError is returned when an exclusive lock was refused because this member
// does not hold a valid lock token.
type LockError struct {
	Status  Status
	Message string
	Inner   error
}

func newLockError(s Status, inner error, format string, args ...any) *LockError {
	return &LockError{Status: s, Message: fmt.Sprintf(format, args...), Inner: inner}
}

func (e *LockError) Error() string {
	msg := e.Status.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Inner != nil {
		msg += ": " + e.Inner.Error()
	}
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Inner
}

// Is reports whether target is a LockError with the same status.
func (e *LockError) Is(target error) bool {
	t, ok := target.(*LockError)
	return ok && t.Status == e.Status
}

// GRPCStatus converts the error into a gRPC status. Nothing in this module
// calls it; status.FromError and status.Code pick it up, so a gRPC handler that
// returns a LockError sends clients the matching code.
func (e *LockError) GRPCStatus() *status.Status {
	return status.New(e.code(), e.Error())
}

func (e *LockError) code() codes.Code {
	switch e.Status {
	case NoLeaderAvailable:
		return codes.Unavailable
	case NotALeader:
		return codes.FailedPrecondition
	case ReplicationFailure:
		return codes.Aborted
	case LostToken:
		return codes.PermissionDenied
	case Interrupted:
		if errors.Is(e.Inner, context.DeadlineExceeded) {
			return codes.DeadlineExceeded
		}
		return codes.Canceled
	default:
		return codes.Unknown
	}
}
