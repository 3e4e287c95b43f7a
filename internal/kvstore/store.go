// Package kvstore provides the persistent key-value store used for cache
// entries, preferences and the hidden-mode verification blob.
package kvstore

import "strings"

// Store is a small byte-oriented key-value store. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys lists keys that start with prefix, in no particular order.
	Keys(prefix string) ([]string, error)
}

func keysWithPrefix(m map[string][]byte, prefix string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
