// Package storage is the optional persistence layer.
//
// It keeps:
//   - an append-only audit log of listener and task invocations
//   - expiring key/value state (random task day plans survive restarts)
package storage
