package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode standardizes failure semantics across the pipeline.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "validation"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeResourceLocked     ErrorCode = "resource_locked"
	CodeInvariantViolation ErrorCode = "invariant_violation"
	CodePreconditionFailed ErrorCode = "precondition_failed"
	CodeRetryable          ErrorCode = "retryable"
	CodeInternal           ErrorCode = "internal"
)

// Error is the canonical registry error wrapper.
type Error struct {
	Code    ErrorCode
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

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// IsCode checks whether err (or a wrapped err) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var regErr *Error
	if !errors.As(err, &regErr) {
		return false
	}
	return regErr.Code == code
}

func CodeOf(err error) ErrorCode {
	var regErr *Error
	if !errors.As(err, &regErr) {
		return ""
	}
	return regErr.Code
}

// MessageOf returns the user-facing message of a registry error, or err.Error() otherwise.
func MessageOf(err error) string {
	var regErr *Error
	if errors.As(err, &regErr) && regErr.Message != "" {
		return regErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
