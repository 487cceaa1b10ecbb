// Package storage provides the durable backends for the taskmill engine:
// a GORM/sqlite store and a JSON-file store with atomic whole-file
// replacement. Both persist the same three record sets: tasks, remote
// workers, and rate limits.
package storage
