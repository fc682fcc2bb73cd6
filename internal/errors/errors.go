package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies a sync failure. Each unit of work (fetch, reconcile,
// migrate) returns a classified error instead of a raw string to match on.
type ErrorType string

const (
	// ErrTransient covers rate limits and transport failures. Retried a
	// bounded number of times, then the current page is treated as empty.
	ErrTransient ErrorType = "TRANSIENT"
	// ErrReferential covers foreign-key violations on upsert. Counted, never
	// retried within the run; expected to self-heal on a later sync of the
	// missing dependency.
	ErrReferential ErrorType = "REFERENTIAL_INTEGRITY"
	// ErrAlreadyApplied marks a structural migration operation whose effect
	// is already present. Not a failure.
	ErrAlreadyApplied ErrorType = "ALREADY_APPLIED"
	// ErrMigration covers any other failure during a schema-altering step.
	// Fatal to the migration run.
	ErrMigration ErrorType = "MIGRATION"
	// ErrConfig covers disabled tasks and malformed config payloads,
	// rejected before any external call.
	ErrConfig ErrorType = "CONFIG"
	ErrNotFound ErrorType = "NOT_FOUND"
	ErrInternal ErrorType = "INTERNAL"
)

// AppError represents a classified application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsTransient checks if the error is a transient provider error
func IsTransient(err error) bool { return isType(err, ErrTransient) }

// IsReferential checks if the error is a referential-integrity error
func IsReferential(err error) bool { return isType(err, ErrReferential) }

// IsAlreadyApplied checks if the error marks an idempotent migration no-op
func IsAlreadyApplied(err error) bool { return isType(err, ErrAlreadyApplied) }

// IsMigration checks if the error is a fatal migration error
func IsMigration(err error) bool { return isType(err, ErrMigration) }

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool { return isType(err, ErrConfig) }

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return isType(err, ErrNotFound) }

// NewTransientError creates a new transient provider error
func NewTransientError(message string, err error) *AppError {
	return New(ErrTransient, message, err)
}

// NewReferentialError creates a new referential-integrity error
func NewReferentialError(message string, err error) *AppError {
	return New(ErrReferential, message, err)
}

// NewAlreadyAppliedError marks a migration operation as already applied
func NewAlreadyAppliedError(message string) *AppError {
	return New(ErrAlreadyApplied, message, nil)
}

// NewMigrationError creates a new fatal migration error
func NewMigrationError(message string, err error) *AppError {
	return New(ErrMigration, message, err)
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return New(ErrConfig, message, err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return New(ErrNotFound, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// SyncInProgressError is returned when a run of the same task type already
// holds the single-flight lock.
type SyncInProgressError struct {
	TaskName string
}

func (e *SyncInProgressError) Error() string {
	return fmt.Sprintf("sync already in progress for task: %s", e.TaskName)
}

// NewSyncInProgressError creates a new SyncInProgressError
func NewSyncInProgressError(taskName string) error {
	return &SyncInProgressError{TaskName: taskName}
}

// IsSyncInProgress checks if the error is a single-flight rejection
func IsSyncInProgress(err error) bool {
	var e *SyncInProgressError
	return errors.As(err, &e)
}
