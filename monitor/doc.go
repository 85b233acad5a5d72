// Package monitor runs the loop that keeps the link roster current and
// serves firmware and mode-change requests.
//
// Each cycle takes the shared lock, prunes links whose device is gone,
// pairs and identifies new ones, re-identifies stale ones, handles at most
// one request from each of the upload, enter-bootloader and
// exit-bootloader queues, persists the roster snapshot and releases the
// lock. A cycle that cannot take the lock is skipped and retried after a
// short random delay. Snapshots written by other monitors are merged
// between cycles.
//
// Callers never touch the transport directly:
//
//	m := monitor.New(tr, st)
//	if err := m.Init(ctx); err != nil {
//	    return err
//	}
//	defer m.Destroy(ctx)
//
//	l, ok := m.LinkByUUID("QB0123456789ABCD")
//	if ok {
//	    _, err := m.UploadFirmware(ctx, l, hexText)
//	}
package monitor
