// Package state keeps failure workflows in Redis.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"faultline/internal/failure"
)

const (
	DefaultKeyPrefix = "faultline"

	fieldVersion = "version"
	fieldData    = "data"
)

// RedisStore is a failure.Store backed by one Redis hash per workflow.
// Saves are guarded with WATCH on the workflow key, so a concurrent writer on
// another node turns into failure.ErrConcurrencyConflict.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store. An empty prefix uses DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id uuid.UUID) string {
	return fmt.Sprintf("%s:workflow:%s", s.prefix, id)
}

// Load reads the workflow for uniqueID.
func (s *RedisStore) Load(ctx context.Context, uniqueID uuid.UUID) (*failure.Workflow, error) {
	data, err := s.client.HGet(ctx, s.key(uniqueID), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, failure.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, &failure.StoreError{Op: "load", Err: err}
	}

	var wf failure.Workflow
	if err := msgpack.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", uniqueID, err)
	}
	return &wf, nil
}

// Save writes wf if the stored version still equals wf.Version.
func (s *RedisStore) Save(ctx context.Context, wf *failure.Workflow) error {
	key := s.key(wf.UniqueID)

	next := wf.Clone()
	next.Version = wf.Version + 1
	data, err := msgpack.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wf.UniqueID, err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != wf.Version {
			return failure.ErrConcurrencyConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVersion, next.Version, fieldData, data)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		wf.Version = next.Version
		return nil
	case errors.Is(err, failure.ErrConcurrencyConflict), errors.Is(err, redis.TxFailedErr):
		return failure.ErrConcurrencyConflict
	default:
		return &failure.StoreError{Op: "save", Err: err}
	}
}

// Ping checks connectivity for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
