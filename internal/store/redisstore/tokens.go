package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askchat/backend/internal/logger"
	"github.com/askchat/backend/internal/store"
)

const tokenTTL = 5 * time.Minute

// TokenCache is a read-through redis cache in front of the push-token
// table. Cache failures fall back to the store and are logged, never fatal:
// a cold or broken cache only costs a db read.
type TokenCache struct {
	rdb  *redis.Client
	repo *store.Repo
	log  *logger.Logger
}

func NewTokenCache(rdb *redis.Client, repo *store.Repo, log *logger.Logger) *TokenCache {
	return &TokenCache{rdb: rdb, repo: repo, log: log}
}

func Connect(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

func tokenKey(userID string) string { return "askchat:tokens:" + userID }

func (c *TokenCache) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, tokenKey(userID)).Result()
		switch {
		case err == nil:
			var tokens []string
			if jsonErr := json.Unmarshal([]byte(raw), &tokens); jsonErr == nil {
				return tokens, nil
			}
			c.log.Warn("token cache entry corrupt", "user_id", userID)
		case err != redis.Nil:
			c.log.Warn("token cache read failed", "user_id", userID, "err", err)
		}
	}

	tokens, err := c.repo.ListPushTokens(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if raw, jsonErr := json.Marshal(tokens); jsonErr == nil {
			if err := c.rdb.Set(ctx, tokenKey(userID), raw, tokenTTL).Err(); err != nil {
				c.log.Warn("token cache write failed", "user_id", userID, "err", err)
			}
		}
	}
	return tokens, nil
}

// AddPushTokens writes through to the store and drops the cached entry so
// the next fanout sees the union.
func (c *TokenCache) AddPushTokens(ctx context.Context, userID string, tokens ...string) error {
	if err := c.repo.AddPushTokens(ctx, userID, tokens...); err != nil {
		return err
	}
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, tokenKey(userID)).Err(); err != nil {
			c.log.Warn("token cache invalidate failed", "user_id", userID, "err", err)
		}
	}
	return nil
}
