// Package objectstore defines the put/get byte-blob interface the rest of
// the system persists through (DiscoveryCache snapshots, design-capture
// screenshots) and two adapters: a local filesystem store for development
// and a Redis-backed store for a shared deployment.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// Store is the external object-store interface (spec §6): put(key, bytes),
// get(key) -> bytes.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
