// Package store persists the client device id and the most recently claimed
// session. Reads fail soft and writes are best-effort; failures come back as
// *StorageError for the caller to log.
package store
