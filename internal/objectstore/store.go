// Package objectstore abstracts the durable keyed object store that holds the
// ticket queue, the resource-pool ledger and the dead-letter store. All
// scheduler state lives in object keys and bodies; the store itself offers no
// transactions or locks, so any ordering guarantees are the caller's problem.
package objectstore

import (
	"context"
	"time"
)

// ObjectInfo describes one stored object as returned by a listing.
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// Store is the capability handed to the scheduling core. Implementations must
// make Put overwrite existing keys and Delete succeed on absent keys.
type Store interface {
	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Get returns the body of the object at key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes body at key, replacing any existing object.
	Put(ctx context.Context, key string, body []byte) error
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}
