package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"faultline/internal/models"
)

// RedisRecordStore keeps each record under its own key and appends its id
// to an index list.
type RedisRecordStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRecordStore creates a store using keys under prefix.
func NewRedisRecordStore(client redis.UniversalClient, prefix string) *RedisRecordStore {
	if prefix == "" {
		prefix = "faultline"
	}
	return &RedisRecordStore{client: client, prefix: prefix}
}

func (s *RedisRecordStore) key(id uuid.UUID) string {
	return fmt.Sprintf("%s:import_failure:%s", s.prefix, id)
}

func (s *RedisRecordStore) indexKey() string {
	return s.prefix + ":import_failures"
}

func (s *RedisRecordStore) Save(ctx context.Context, rec *models.ImportFailureRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode import failure %s: %w", rec.ID, err)
	}

	key := s.key(rec.ID)
	executed := false
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrRecordExists
		}
		// Record and index entry are written in one MULTI/EXEC.
		executed = true
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.LPush(ctx, s.indexKey(), rec.ID.String())
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecordExists), errors.Is(err, redis.TxFailedErr):
		return ErrRecordExists
	case executed:
		// EXEC does not roll back a failed command; drop the record so a
		// redelivery starts from a clean slate.
		if delErr := s.client.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("save import failure %s: %w (cleanup: %v)", rec.ID, err, delErr)
		}
		return fmt.Errorf("save import failure %s: %w", rec.ID, err)
	default:
		return fmt.Errorf("save import failure %s: %w", rec.ID, err)
	}
}

func (s *RedisRecordStore) Get(ctx context.Context, id uuid.UUID) (*models.ImportFailureRecord, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load import failure %s: %w", id, err)
	}

	var rec models.ImportFailureRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode import failure %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisRecordStore) List(ctx context.Context, limit int) ([]uuid.UUID, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list import failures: %w", err)
	}

	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
