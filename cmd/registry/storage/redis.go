package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/plugin-registry/common/logger"
	"github.com/lyzr/plugin-registry/common/redis"
)

// ErrBinaryNotFound is returned when no binary exists for a release
var ErrBinaryNotFound = errors.New("release binary not found")

// RedisBinaryStorage stores release binaries as Redis blobs.
// Keys are '<prefix>/<plugin id>/<version>.zip'.
type RedisBinaryStorage struct {
	client    *redis.Client
	keyPrefix string
	log       *logger.Logger
}

// NewRedisBinaryStorage creates a Redis-backed binary store
func NewRedisBinaryStorage(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisBinaryStorage {
	return &RedisBinaryStorage{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log,
	}
}

// Key implements BinaryStorage
func (s *RedisBinaryStorage) Key(pluginID, version string) string {
	return fmt.Sprintf("%s/%s/%s.zip", s.keyPrefix, pluginID, version)
}

// Store implements BinaryStorage. Binaries never expire; cleanup happens
// through release deletion.
func (s *RedisBinaryStorage) Store(ctx context.Context, pluginID, version string, data []byte) error {
	key := s.Key(pluginID, version)
	if err := s.client.SetBytes(ctx, key, data, 0); err != nil {
		return fmt.Errorf("failed to store binary %s: %w", key, err)
	}

	s.log.Info("stored release binary",
		"plugin_id", pluginID,
		"version", version,
		"bytes", len(data),
	)

	return nil
}

// Get implements BinaryStorage
func (s *RedisBinaryStorage) Get(ctx context.Context, pluginID, version string) ([]byte, error) {
	key := s.Key(pluginID, version)
	data, err := s.client.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, key)
		}
		return nil, fmt.Errorf("failed to get binary %s: %w", key, err)
	}

	return data, nil
}

// Delete implements BinaryStorage
func (s *RedisBinaryStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete binary %s: %w", key, err)
	}

	s.log.Info("deleted release binary", "key", key)
	return nil
}
