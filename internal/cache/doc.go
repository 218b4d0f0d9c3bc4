// Package cache defines the durable store that keeps downloaded model bytes
// keyed by their URL. Two backends share one contract: a LevelDB database
// (default) and a sharded directory tree that commits bodies through temp
// file + rename. Writes are all-or-nothing, reads of missing keys return
// ErrNotFound, and Has never reports an error so callers fall back to the
// network instead of failing. An optional LRU layer caps the entry count.
package cache
