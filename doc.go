// Package treewire is a client for a remote hierarchical document store.
// It mirrors a subtree of the remote document into an in-memory cache by
// consuming the store's streaming change feed, and fans out path-scoped
// notifications to registered listeners. One-shot read/push/write/update/
// remove operations share the client's rate-limit backoff policy with the
// streaming engine.
package treewire
