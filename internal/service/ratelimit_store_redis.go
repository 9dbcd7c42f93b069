package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

// RedisBucketStore keeps buckets as JSON values and updates them with WATCH/MULTI so
// concurrent updates of one key retry instead of overwriting each other.
type RedisBucketStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewRedisBucketStore(client redis.UniversalClient, prefix string) *RedisBucketStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisBucketStore{client: client, prefix: prefix, maxRetries: 16}
}

func (s *RedisBucketStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(domain.RateLimitBucket, bool) domain.RateLimitBucket) error {
	k := s.prefix + key
	txf := func(tx *redis.Tx) error {
		var cur domain.RateLimitBucket
		found := false
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			found = json.Unmarshal(raw, &cur) == nil
		}
		payload, err := json.Marshal(fn(cur, found))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, ttl)
			return nil
		})
		return err
	}
	for range s.maxRetries {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrRateLimitContention
}
