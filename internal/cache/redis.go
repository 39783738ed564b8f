package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"boutique/terminal/internal/store"
)

const keyPrefix = "terminal:"

// Redis keeps drafts and the catalog snapshot in a redis instance shared by
// the terminals of one shop. Drafts expire after draftTTL; zero keeps them
// until cleared.
type Redis struct {
	client   *redis.Client
	draftTTL time.Duration
}

func NewRedis(addr string, password string, db int, draftTTL time.Duration) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Redis{client: client, draftTTL: draftTTL}
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}

func (c *Redis) GetDraft(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *Redis) PutDraft(ctx context.Context, key string, payload []byte) error {
	return c.client.Set(ctx, keyPrefix+key, payload, c.draftTTL).Err()
}

func (c *Redis) DeleteDraft(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

func (c *Redis) Get(ctx context.Context, key string) (*CatalogSnapshot, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snapshot CatalogSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, false, err
	}
	return &snapshot, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value *CatalogSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}
