package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/example/taskauth/internal/auth"
	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "blacklist:"

// RedisBlacklist keeps revoked token ids in Redis with a TTL matching the
// token's own expiry, so entries clean themselves up.
type RedisBlacklist struct {
	client *redis.Client
}

var _ auth.Blacklist = (*RedisBlacklist)(nil)

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (r *RedisBlacklist) InsertBlacklistEntry(ctx context.Context, tokenID string, expiresAt int64, _ string) error {
	ttl := time.Until(time.Unix(expiresAt, 0))
	if ttl <= 0 {
		// Already expired; the codec rejects it anyway.
		return nil
	}
	return r.client.SetNX(ctx, blacklistKeyPrefix+tokenID, expiresAt, ttl).Err()
}

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, tokenID string, now int64) (bool, error) {
	v, err := r.client.Get(ctx, blacklistKeyPrefix+tokenID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	exp, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return true, nil
	}
	return exp > now, nil
}

// PurgeExpiredBlacklist is a no-op; Redis expires keys on its own.
func (r *RedisBlacklist) PurgeExpiredBlacklist(context.Context, int64) (int64, error) {
	return 0, nil
}

func (r *RedisBlacklist) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Layered serves users and session audit from a relational store and the
// blacklist from a separate backend.
type Layered struct {
	auth.Store
	blacklist *RedisBlacklist
}

var _ auth.Store = (*Layered)(nil)

func NewLayered(base auth.Store, bl *RedisBlacklist) *Layered {
	return &Layered{Store: base, blacklist: bl}
}

func (l *Layered) InsertBlacklistEntry(ctx context.Context, tokenID string, expiresAt int64, reason string) error {
	return l.blacklist.InsertBlacklistEntry(ctx, tokenID, expiresAt, reason)
}

func (l *Layered) IsBlacklisted(ctx context.Context, tokenID string, now int64) (bool, error) {
	return l.blacklist.IsBlacklisted(ctx, tokenID, now)
}

func (l *Layered) PurgeExpiredBlacklist(ctx context.Context, now int64) (int64, error) {
	return l.blacklist.PurgeExpiredBlacklist(ctx, now)
}

func (l *Layered) Ping(ctx context.Context) error {
	if err := l.Store.Ping(ctx); err != nil {
		return err
	}
	return l.blacklist.Ping(ctx)
}

func (l *Layered) Close() error {
	return errors.Join(l.Store.Close(), l.blacklist.client.Close())
}
