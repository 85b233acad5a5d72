// Package lock implements a mutual-exclusion lock shared by several
// contexts through a store.Store.
//
// The lock is a single record holding the owner id and the time it was
// written. A record older than the stale threshold is treated as
// abandoned, so a crashed owner cannot block the others forever. Every
// write is read back after a short delay to detect two contexts taking
// the lock at the same time.
//
// # Usage
//
//	m := lock.New(st, uuid.NewString())
//	if err := m.Lock(ctx); err != nil {
//	    return err
//	}
//	defer m.Unlock(ctx)
package lock
