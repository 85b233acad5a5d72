package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLockContention is returned when a fresh lock is held by another owner.
	ErrLockContention = errors.New("lock contention")

	// ErrLockVerificationFailed is returned when a written lock record is
	// not observed on read-back.
	ErrLockVerificationFailed = errors.New("lock verification failed")

	// ErrNotLocked is returned by Unlock when no record exists.
	ErrNotLocked = errors.New("not locked")

	// ErrNotOwner is returned by Unlock and Refresh when another owner
	// holds the lock.
	ErrNotOwner = errors.New("lock held by another owner")
)

// ContentionError reports a fresh lock held by another owner.
type ContentionError struct {
	Owner string
	Age   time.Duration
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("lock held by %s, age %s", e.Owner, e.Age)
}

func (e *ContentionError) Is(target error) bool {
	return target == ErrLockContention
}

// VerificationError reports a failed read-back after writing the lock.
// Observed is empty when the record was missing.
type VerificationError struct {
	Expected string
	Observed string
}

func (e *VerificationError) Error() string {
	if e.Observed == "" {
		return "lock did not persist"
	}
	return fmt.Sprintf("lock owner mismatch: %s != %s", e.Observed, e.Expected)
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrLockVerificationFailed
}
