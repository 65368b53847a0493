package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/schema-registry/internal/domain/registry"
)

var (
	ErrValidation = errors.New("ledger validation")
	ErrInvariant  = errors.New("ledger invariant violation")
	ErrConflict   = errors.New("ledger conflict")
	ErrRetryable  = errors.New("ledger retryable")
)

func ValidationError(msg string) error {
	return errors.Join(ErrValidation, errors.New(strings.TrimSpace(msg)))
}

func InvariantError(msg string) error {
	return errors.Join(ErrInvariant, errors.New(strings.TrimSpace(msg)))
}

// ConflictError marks a write that lost a concurrency race.
func ConflictError(msg string) error {
	return errors.Join(ErrConflict, errors.New(strings.TrimSpace(msg)))
}

func RetryableError(msg string) error {
	return errors.Join(ErrRetryable, errors.New(strings.TrimSpace(msg)))
}

// MapError maps infrastructure and ledger failures onto registry error codes.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		return err
	}
	switch {
	case errors.Is(err, ErrValidation):
		return registry.Wrap(registry.CodeValidation, op, err)
	case errors.Is(err, ErrInvariant):
		return registry.Wrap(registry.CodeInvariantViolation, op, err)
	case errors.Is(err, ErrConflict):
		return registry.Wrap(registry.CodeConflict, op, err)
	case errors.Is(err, ErrRetryable):
		return registry.Wrap(registry.CodeRetryable, op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return registry.Wrap(registry.CodeNotFound, op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return registry.Wrap(registry.CodeConflict, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return registry.Wrap(registry.CodeRetryable, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505":
			return registry.Wrap(registry.CodeConflict, op, err) // unique_violation
		case "23503":
			return registry.Wrap(registry.CodePreconditionFailed, op, err) // foreign_key_violation
		case "40001", "40P01", "55P03":
			return registry.Wrap(registry.CodeRetryable, op, err) // serialization/deadlock/lock_not_available
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "duplicate key"),
		strings.Contains(msg, "unique constraint failed"),
		strings.Contains(msg, "already exists"):
		return registry.Wrap(registry.CodeConflict, op, err)
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "timeout"):
		return registry.Wrap(registry.CodeRetryable, op, err)
	default:
		return registry.Wrap(registry.CodeInternal, op, err)
	}
}
