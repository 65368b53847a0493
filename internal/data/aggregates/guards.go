package aggregates

import (
	"strings"

	"github.com/google/uuid"
)

// RequireCASSuccess converts a guarded update that matched no rows into a conflict.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(strings.TrimSpace(message))
}

// RequireHeadMatch checks that the history head has not moved since expected was read.
// A nil expected id means the caller saw an empty history.
func RequireHeadMatch(current, expected *uuid.UUID) error {
	switch {
	case current == nil && expected == nil:
		return nil
	case current == nil || expected == nil:
		return ConflictError("schema history head changed")
	case *current != *expected:
		return ConflictError("schema history head changed")
	default:
		return nil
	}
}
