// Package store defines the shared key/value contract used for the lock
// and the link roster snapshot.
//
// Implementations:
//   - memory: an in-process backend with one view per context
//   - redisstore: Redis with pub/sub change notification
//   - sqlitestore: a SQLite file with change notification by polling
package store
