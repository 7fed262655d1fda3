package storage

import "context"

// BinaryStorage is keyed blob storage for release binaries. The service
// treats it as an optional collaborator: a nil BinaryStorage disables
// artifact upload, download and cleanup.
type BinaryStorage interface {
	// Key derives the storage key for a plugin release binary
	Key(pluginID, version string) string

	// Store persists a binary under the key derived from (pluginID, version)
	Store(ctx context.Context, pluginID, version string, data []byte) error

	// Get retrieves a stored binary; missing binaries surface ErrBinaryNotFound
	Get(ctx context.Context, pluginID, version string) ([]byte, error)

	// Delete removes a binary by key; deleting a missing key is a no-op
	Delete(ctx context.Context, key string) error
}
