// Package storage provides the backend bindings the workbench reads from.
//
// This package includes:
//   - MemoryBackend: an in-process backend for tests and the demo server
//   - GormBackend: a GORM-based implementation for SQLite and PostgreSQL
//   - RedisBackend: sorted-set buckets and job hashes in Redis
//
// Every binding implements core.Backend, core.FlowStore and core.Discoverer,
// and its queues implement core.Queue and core.TimeIndex.
package storage
