package storage

import "context"

// ObjectStore persists result images under deterministic keys. Put has
// upsert semantics: writing the same key twice overwrites, so
// re-materializing a result is idempotent.
type ObjectStore interface {
	// Put stores data under key and returns a publicly reachable URL.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}
