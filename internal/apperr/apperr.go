// Package apperr defines the error taxonomy shared by the trick graph, the
// submission pipeline and the moderation queue.
//
// Every error returned across a component boundary is an *Error carrying a
// Code (the class of failure) and, as its Cause, one of the sentinel kinds
// below. Callers switch on the class with CodeOf/IsCode and on the precise
// kind with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeInternal           Code = "internal"
)

// Validation kinds.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidVoteValue  = errors.New("vote value must be -1 or 1")
	ErrSelfPrerequisite  = errors.New("trick cannot be its own prerequisite")
	ErrDuplicatePrereq   = errors.New("duplicate prerequisite")
	ErrInvalidParent     = errors.New("parent comment belongs to a different submission")
	ErrInvalidTargetType = errors.New("unknown moderation target type")
	ErrInvalidDecision   = errors.New("unknown moderation decision")
)

// Conflict kinds.
var (
	ErrCycleDetected     = errors.New("prerequisite would create a cycle")
	ErrDuplicateSlug     = errors.New("slug already in use")
	ErrDuplicateOpenItem = errors.New("target already has an open moderation item")
	ErrAlreadyResolved   = errors.New("moderation item already resolved")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrMediaPending      = errors.New("submission media has not finished processing")
	ErrConflict          = errors.New("conflicting write")
)

// Not-found kinds.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownPrerequisite = errors.New("unknown or inactive prerequisite")
)

// ErrIntegrity marks a state that correct transaction discipline should make
// impossible.
var ErrIntegrity = errors.New("integrity violation")

// Error is the canonical coded error.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a coded error. cause is normally one of the sentinel kinds.
func New(code Code, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with a code. A nil err stays nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(code, op, err.Error(), err)
}

func Validation(op string, kind error, format string, args ...any) error {
	return New(CodeValidation, op, fmt.Sprintf(format, args...), kind)
}

func NotFound(op string, kind error, format string, args ...any) error {
	return New(CodeNotFound, op, fmt.Sprintf(format, args...), kind)
}

func Conflict(op string, kind error, format string, args ...any) error {
	return New(CodeConflict, op, fmt.Sprintf(format, args...), kind)
}

func Integrity(op string, format string, args ...any) error {
	return New(CodeIntegrityViolation, op, fmt.Sprintf(format, args...), ErrIntegrity)
}

// IsCode reports whether err (or anything it wraps) carries code.
func IsCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the code, or "" for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}
