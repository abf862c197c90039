// Package storage persists the run-history journal: a compact record of
// task lifecycle events for operators to inspect after the fact.
//
// The backend is a local SQLite file (modernc.org/sqlite, no cgo). Storage
// is optional; when disabled Open returns (nil, nil) and callers skip
// recording entirely.
package storage
