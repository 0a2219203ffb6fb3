// Package kvstore provides the durable key-value contract the offline
// cache and pending queue persist through, with file, bbolt, redis, and
// in-memory backends.
package kvstore

import "context"

// Store is a whole-value key-value store. Values are JSON strings;
// there is no compare-and-swap, so read-modify-write callers must
// serialize themselves within the process.
type Store interface {
	// Get returns the value for key, with false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveMany deletes every key in keys, best effort.
	RemoveMany(ctx context.Context, keys []string) error
}
