package store

import "errors"

var (
	// ErrNotFound is returned when a record is missing or already evicted.
	// Working-memory callers treat it as "no evidence available".
	ErrNotFound = errors.New("record not found")

	// ErrOutcomeExists is returned when a second outcome is created for
	// the same task.
	ErrOutcomeExists = errors.New("outcome already recorded for task")

	// ErrActualAlreadyReported is returned when a task's actual cost is
	// reported more than once.
	ErrActualAlreadyReported = errors.New("actual cost already reported")
)
