// Package dberror provides the structured error taxonomy used across the
// physical log engine. Every sentinel condition a caller
// needs to branch on — LogFull, StaleVersion, and so on — is a distinct
// error Code so callers can use errors.Is against the package-level
// sentinels instead of string-matching messages.
package dberror

import (
	"errors"
	"fmt"
)

// Category groups related error codes for reporting.
type Category string

const (
	CategoryCapacity  Category = "CAPACITY"  // out of space or reservation
	CategoryConflict  Category = "CONFLICT"  // version/ordering conflict
	CategoryNotFound  Category = "NOT_FOUND" // record/stream/log absent
	CategoryCorrupt   Category = "CORRUPT"   // on-disk structure failed validation
	CategoryInvalid   Category = "INVALID"   // caller supplied a bad argument
	CategoryIO        Category = "IO"        // device I/O failure
)

// DBError is the structured error type every taxonomy sentinel wraps.
type DBError struct {
	Category  Category
	Code      string
	Message   string
	Detail    string
	Hint      string
	Operation string
	Component string
	cause     error
}

func New(category Category, code, message string) *DBError {
	return &DBError{Category: category, Code: code, Message: message}
}

func (e *DBError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DBError) Unwrap() error { return e.cause }

// WithCause attaches an underlying error (typically from the block
// device or filesystem) and returns the receiver for chaining.
func (e *DBError) WithCause(cause error) *DBError {
	e.cause = cause
	return e
}

// Is reports Code equality so errors.Is(err, dberror.ErrLogFull) works
// even when Detail/Hint/Operation differ between instances.
func (e *DBError) Is(target error) bool {
	var other *DBError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Taxonomy sentinels. Each is a template: call the
// matching New* constructor to get an instance decorated with the
// specifics of one failure.
var (
	ErrLogFull          = New(CategoryCapacity, "LOG_FULL", "log has insufficient free space")
	ErrStaleVersion     = New(CategoryConflict, "STALE_VERSION", "write version is not higher than the existing entry")
	ErrReserveTooSmall  = New(CategoryCapacity, "RESERVE_TOO_SMALL", "reservation adjustment would drive reserved bytes negative")
	ErrNotFound         = New(CategoryNotFound, "NOT_FOUND", "record not found")
	ErrCorruptLog       = New(CategoryCorrupt, "CORRUPT_LOG", "log file failed structural validation")
	ErrStructureFault   = New(CategoryCorrupt, "STRUCTURE_FAULT", "record failed verifier validation")
	ErrInvalidParameter = New(CategoryInvalid, "INVALID_PARAMETER", "invalid parameter")
	ErrIoError          = New(CategoryIO, "IO_ERROR", "device I/O failed")
)

func NewLogFull(component string, needed, free int64) *DBError {
	err := New(CategoryCapacity, ErrLogFull.Code, ErrLogFull.Message)
	err.Detail = fmt.Sprintf("needed %d bytes, %d free", needed, free)
	err.Hint = "truncate the stream or grow the log"
	err.Component = component
	return err
}

func NewStaleVersion(component string, asn uint64, have, want uint64) *DBError {
	err := New(CategoryConflict, ErrStaleVersion.Code, ErrStaleVersion.Message)
	err.Detail = fmt.Sprintf("asn=%d existing version=%d incoming version=%d", asn, have, want)
	err.Hint = "use a strictly higher version to overwrite an existing ASN"
	err.Component = component
	return err
}

func NewReserveTooSmall(component string, current, delta int64) *DBError {
	err := New(CategoryCapacity, ErrReserveTooSmall.Code, ErrReserveTooSmall.Message)
	err.Detail = fmt.Sprintf("current reservation=%d delta=%d", current, delta)
	err.Hint = "reduce the withdrawal or increase the reservation first"
	err.Component = component
	return err
}

func NewNotFound(component, what string) *DBError {
	err := New(CategoryNotFound, ErrNotFound.Code, ErrNotFound.Message)
	err.Detail = what
	err.Component = component
	return err
}

func NewCorruptLog(component, detail string) *DBError {
	err := New(CategoryCorrupt, ErrCorruptLog.Code, ErrCorruptLog.Message)
	err.Detail = detail
	err.Hint = "the log cannot be opened; restore from backup"
	err.Component = component
	return err
}

func NewStructureFault(component string, lsn uint64, detail string) *DBError {
	err := New(CategoryCorrupt, ErrStructureFault.Code, ErrStructureFault.Message)
	err.Detail = fmt.Sprintf("lsn=%d: %s", lsn, detail)
	err.Component = component
	return err
}

func NewInvalidParameter(component, detail string) *DBError {
	err := New(CategoryInvalid, ErrInvalidParameter.Code, ErrInvalidParameter.Message)
	err.Detail = detail
	err.Component = component
	return err
}

func NewIoError(component, operation string, cause error) *DBError {
	err := New(CategoryIO, ErrIoError.Code, ErrIoError.Message)
	err.Operation = operation
	err.Component = component
	if cause != nil {
		err.Detail = cause.Error()
	}
	return err.WithCause(cause)
}

// Fatal panics with a DBError, used only for engine-internal invariant
// violations (e.g. negative LSN arithmetic, an impossible index state)
// — bugs, not data faults, and
// therefore not something a caller should be expected to handle via a
// returned error.
func Fatal(component, invariant string) {
	panic(New(CategoryInvalid, "INVARIANT_VIOLATION", invariant).WithComponent(component))
}

func (e *DBError) WithComponent(component string) *DBError {
	e.Component = component
	return e
}
