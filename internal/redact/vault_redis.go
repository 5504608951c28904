package redact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tutela/pkg/platform/sentinel"
)

const (
	vaultEntryKeyPrefix = "vault:entry:"
	vaultTokenKeyPrefix = "vault:token:"
)

// RedisVault is the distributed Vault. Entries carry their retention as a
// key TTL, so expired originals disappear without a sweeper.
type RedisVault struct {
	client *redis.Client
}

// NewRedisVault constructs a Redis-backed vault. The client lifecycle is
// managed externally.
func NewRedisVault(client *redis.Client) *RedisVault {
	return &RedisVault{client: client}
}

func (v *RedisVault) Put(ctx context.Context, entry VaultEntry) error {
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return sentinel.ErrExpired
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode vault entry: %w", err)
	}

	pipe := v.client.Pipeline()
	pipe.Set(ctx, vaultEntryKeyPrefix+entry.ID.String(), payload, ttl)
	if entry.Token != "" {
		pipe.Set(ctx, vaultTokenKeyPrefix+entry.Scope+":"+entry.Token, entry.ID.String(), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store vault entry: %w", err)
	}
	return nil
}

func (v *RedisVault) Get(ctx context.Context, id uuid.UUID) (VaultEntry, error) {
	payload, err := v.client.Get(ctx, vaultEntryKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return VaultEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return VaultEntry{}, fmt.Errorf("fetch vault entry: %w", err)
	}

	var entry VaultEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return VaultEntry{}, fmt.Errorf("decode vault entry: %w", err)
	}
	return entry, nil
}

func (v *RedisVault) GetByToken(ctx context.Context, scope, token string) (VaultEntry, error) {
	raw, err := v.client.Get(ctx, vaultTokenKeyPrefix+scope+":"+token).Result()
	if errors.Is(err, redis.Nil) {
		return VaultEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return VaultEntry{}, fmt.Errorf("resolve vault token: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return VaultEntry{}, fmt.Errorf("parse vault token mapping: %w", err)
	}
	return v.Get(ctx, id)
}
