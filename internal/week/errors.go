package week

import "fmt"

// VersionConflictError rejects a write whose base version is stale. Current
// is the stored version the client should reconcile against.
type VersionConflictError struct {
	UserID       string
	WeekStartISO string
	Expected     int
	Current      int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on week %s: based on %d, stored is %d", e.WeekStartISO, e.Expected, e.Current)
}

// PersistenceError wraps a failure of the underlying store. It is always
// safe to retry the whole save.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s week board: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports that the operation may succeed if repeated.
func (e *PersistenceError) Retryable() bool { return true }
