package apperrors

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Code classifies an error for transport mapping.
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeInternal           Code = "INTERNAL"
)

// AppError is a coded error with a stable user-facing message.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string { return e.Message }

func newErr(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

var (
	ErrNotMember            = newErr(CodePermissionDenied, "not a member of this group")
	ErrBanned               = newErr(CodePermissionDenied, "banned from this group")
	ErrForbidden            = newErr(CodePermissionDenied, "action requires moderator or owner role")
	ErrCannotModerateOwner  = newErr(CodePermissionDenied, "the group owner cannot be moderated")
	ErrInvalidDuration      = newErr(CodeInvalidArgument, "silence duration must be between 1 and 168 hours")
	ErrInvalidArgument      = newErr(CodeInvalidArgument, "invalid argument")
	ErrDuplicateMembership  = newErr(CodeAlreadyExists, "already a member of this group")
	ErrAlreadyReported      = newErr(CodeAlreadyExists, "message already reported by this user")
	ErrGroupNotFound        = newErr(CodeNotFound, "group not found")
	ErrMemberNotFound       = newErr(CodeNotFound, "member not found")
	ErrMessageNotFound      = newErr(CodeNotFound, "message not found")
	ErrNotBanned            = newErr(CodeFailedPrecondition, "member is not banned")
)

// SilencedError is returned when a silenced member attempts to post.
type SilencedError struct {
	Remaining time.Duration
}

func (e *SilencedError) Error() string {
	return fmt.Sprintf("silenced for another %s", e.Remaining.Round(time.Second))
}

// Code returns the transport code.
func (e *SilencedError) Code() Code { return CodePermissionDenied }

// SlowModeError is returned when a member posts before the slow-mode interval elapsed.
type SlowModeError struct {
	Remaining time.Duration
}

func (e *SlowModeError) Error() string {
	return fmt.Sprintf("slow mode: wait %d seconds", CeilSeconds(e.Remaining))
}

// Code returns the transport code.
func (e *SlowModeError) Code() Code { return CodeResourceExhausted }

// PersistenceError wraps a store failure that aborted an operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Code returns the transport code.
func (e *PersistenceError) Code() Code { return CodeInternal }

// DetectorError is logged by the crisis detector and never returned to senders.
type DetectorError struct {
	MessageID int
	Err       error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("crisis detector on message %d: %v", e.MessageID, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError unless it already carries a domain code.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// CodeOf extracts the transport code of err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	var coded interface{ Code() Code }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// CeilSeconds rounds d up to whole seconds, the unit shown to users.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Remaining returns the wait carried by silence and slow-mode rejections.
func Remaining(err error) (time.Duration, bool) {
	var silenced *SilencedError
	if errors.As(err, &silenced) {
		return silenced.Remaining, true
	}
	var slow *SlowModeError
	if errors.As(err, &slow) {
		return slow.Remaining, true
	}
	return 0, false
}

// Public returns the text shown to the caller. Internal failures are not described.
func Public(err error) string {
	if CodeOf(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
