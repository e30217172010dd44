package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hemicycle/internal/models"
)

// RedisStore keeps one JSON document per deputy and a set of IDs per
// legislature for counting. It is shared between processes and usually sits
// in front of a slower primary store.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. A zero ttl keeps entries forever.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "deputy:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(legislature, id string) string {
	return s.prefix + legislature + ":" + id
}

func (s *RedisStore) indexKey(legislature string) string {
	return s.prefix + legislature + ":ids"
}

func (s *RedisStore) BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(legislature, id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget deputies: %w", err)
	}

	out := make([]models.DeputyRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var d models.DeputyRecord
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("unmarshal deputy %s: %w", ids[i], err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context, legislature string) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey(legislature)).Result()
	if err != nil {
		return 0, fmt.Errorf("count deputies: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error) {
	records = validRecords(records)
	if len(records) == 0 {
		return 0, nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range records {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("marshal deputy %s: %w", d.ID, err)
			}
			pipe.Set(ctx, s.key(legislature, d.ID), data, s.ttl)
			pipe.SAdd(ctx, s.indexKey(legislature), d.ID)
		}
		// the index lives as long as the newest record it lists
		if s.ttl > 0 {
			pipe.Expire(ctx, s.indexKey(legislature), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save deputies: %w", err)
	}
	return len(records), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
