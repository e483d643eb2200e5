package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a storage failure for the caller's recovery policy:
// not-found and conflict are business outcomes, transient failures are
// retried inside the gateway, internal failures surface as fatal.
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not_found"
	KindConflict  ErrorKind = "conflict"
	KindTransient ErrorKind = "transient"
	KindInternal  ErrorKind = "internal"
)

// StorageError wraps a database failure with its classification and the
// operation that produced it.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *StorageError {
	return &StorageError{Kind: kind, Op: op, Err: err}
}

func notFound(op, entity, id string) *StorageError {
	return newError(KindNotFound, op, fmt.Errorf("%s not found: %s", entity, id))
}

// IsNotFound reports whether err is a not-found storage error.
func IsNotFound(err error) bool {
	return isKind(err, KindNotFound)
}

// IsConflict reports whether err is a uniqueness/duplicate conflict.
func IsConflict(err error) bool {
	return isKind(err, KindConflict)
}

func isKind(err error, kind ErrorKind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == kind
}

// isTransient recognizes SQLite contention errors worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// isConflictErr recognizes uniqueness violations from the driver.
func isConflictErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
