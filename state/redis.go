package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 5 * time.Second

// redisState keeps the whole table in one redis hash.
type redisState[K comparable, V any] struct {
	memory    *memoryState[K, V]
	urlParsed *url.URL
	hashKey   string
	db        *redis.Client
}

func (r *redisState[K, V]) init() error {
	q := r.urlParsed.Query()
	r.hashKey = q.Get("key")
	if r.hashKey == "" {
		return fmt.Errorf("'key' is required on redis state engine, place it on your URL query string")
	}
	q.Del("key")
	u := *r.urlParsed
	u.RawQuery = q.Encode()
	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return err
	}
	r.db = redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	all, err := r.db.HGetAll(ctx, r.hashKey).Result()
	if err != nil {
		_ = r.db.Close()
		return err
	}
	for kRaw, vRaw := range all {
		var k K
		var v V
		if err = json.Unmarshal([]byte(kRaw), &k); err != nil {
			return fmt.Errorf("redis field %q: %w", kRaw, err)
		}
		if err = json.Unmarshal([]byte(vRaw), &v); err != nil {
			return fmt.Errorf("redis field %q: %w", kRaw, err)
		}
		_ = r.memory.Add(k, v)
	}
	return nil
}

func (r *redisState[K, V]) Close() error {
	return r.db.Close()
}

func (r *redisState[K, V]) Get(key K) (V, error) {
	return r.memory.Get(key)
}

func (r *redisState[K, V]) Range(fn func(key K, value V) bool) {
	r.memory.Range(fn)
}

func (r *redisState[K, V]) Add(key K, value V) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err = r.db.HSet(ctx, r.hashKey, string(k), v).Err(); err != nil {
		return err
	}
	return r.memory.Add(key, value)
}

func (r *redisState[K, V]) Delete(key K) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err = r.db.HDel(ctx, r.hashKey, string(k)).Err(); err != nil {
		return err
	}
	return r.memory.Delete(key)
}

func (r *redisState[K, V]) Pop(key K) (V, error) {
	v, err := r.memory.Get(key)
	if err != nil {
		return v, err
	}
	return v, r.Delete(key)
}
