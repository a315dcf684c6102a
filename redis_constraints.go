package docmodel

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// pendingClaim marks a claim whose insert has not completed yet.
const pendingClaim = "pending"

// ClaimManager enforces uniqueness constraints atomically with Redis SET NX,
// closing the window between the pre-check and the insert for every writer
// that shares the same Redis.
//
// Key format: {prefix}:{collection}:{digest}
// Example:    unique:users:3f1c...e07a
//
// The digest is a SHA-256 over each field name and its BSON-encoded value,
// type included, so "5" and 5 claim different keys.
//
// The key holds "pending" while the insert is in flight and the new
// document's id once it succeeded. Failed inserts release their claim.
type ClaimManager struct {
	redis   *redis.Client
	prefix  string
	ttl     time.Duration
	breaker *CircuitBreaker
	logger  Logger
}

// NewClaimManager creates a claim manager over client.
func NewClaimManager(client *redis.Client) *ClaimManager {
	return &ClaimManager{
		redis:   client,
		prefix:  "unique",
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  &NoOpLogger{},
	}
}

// WithPrefix changes the key prefix (default "unique").
func (cm *ClaimManager) WithPrefix(prefix string) *ClaimManager {
	cm.prefix = prefix
	return cm
}

// WithPendingTTL bounds how long a pending claim survives a writer that
// crashed between claim and insert. Confirmed claims never expire.
func (cm *ClaimManager) WithPendingTTL(ttl time.Duration) *ClaimManager {
	cm.ttl = ttl
	return cm
}

// WithLogger sets the logger.
func (cm *ClaimManager) WithLogger(logger Logger) *ClaimManager {
	if logger != nil {
		cm.logger = logger
	}
	return cm
}

// Breaker exposes the circuit breaker guarding Redis calls.
func (cm *ClaimManager) Breaker() *CircuitBreaker {
	return cm.breaker
}

// Claim reserves the constrained field values for entity in collection.
// It returns the claim key, or an *IntegrityError if another writer holds it.
func (cm *ClaimManager) Claim(ctx context.Context, entity, collection string, fields Attrs) (string, error) {
	key, err := cm.key(collection, fields)
	if err != nil {
		return "", err
	}

	var claimed bool
	err = cm.breaker.Execute(ctx, func(ctx context.Context) error {
		ok, err := cm.redis.SetNX(ctx, key, pendingClaim, cm.ttl).Result()
		claimed = ok
		return err
	})
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", key, err)
	}

	if !claimed {
		var owner string
		if err := cm.breaker.Execute(ctx, func(ctx context.Context) error {
			v, err := cm.redis.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			owner = v
			return err
		}); err != nil {
			cm.logger.Warn("failed to read unique claim owner", "key", key, "error", err)
		}
		cm.logger.Debug("unique claim held", "key", key, "owner", owner)
		return "", &IntegrityError{Entity: entity, Fields: fields}
	}

	return key, nil
}

// Confirm points a claim at the id of the document that now owns it and
// drops any pending expiry.
func (cm *ClaimManager) Confirm(ctx context.Context, key, id string) error {
	return cm.breaker.Execute(ctx, func(ctx context.Context) error {
		return cm.redis.Set(ctx, key, id, 0).Err()
	})
}

// Release deletes a claim after a failed insert.
func (cm *ClaimManager) Release(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return cm.breaker.Execute(ctx, func(ctx context.Context) error {
		return cm.redis.Del(ctx, key).Err()
	})
}

// Owner returns the id holding the claim for fields, "pending" while an
// insert is in flight, or "" when unclaimed.
func (cm *ClaimManager) Owner(ctx context.Context, collection string, fields Attrs) (string, error) {
	key, err := cm.key(collection, fields)
	if err != nil {
		return "", err
	}

	var owner string
	err = cm.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := cm.redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		owner = v
		return err
	})
	return owner, err
}

// Rebuild drops every claim of collection and recreates them from owners,
// a map of document id to its constrained field values. Use it when adding
// claims to existing data or after Redis data loss.
func (cm *ClaimManager) Rebuild(ctx context.Context, entity, collection string, owners map[string]Attrs) error {
	pattern := fmt.Sprintf("%s:%s:*", cm.prefix, collection)

	var cursor uint64
	for {
		var keys []string
		err := cm.breaker.Execute(ctx, func(ctx context.Context) error {
			var scanErr error
			keys, cursor, scanErr = cm.redis.Scan(ctx, cursor, pattern, 100).Result()
			return scanErr
		})
		if err != nil {
			return fmt.Errorf("scan claims: %w", err)
		}

		if len(keys) > 0 {
			err := cm.breaker.Execute(ctx, func(ctx context.Context) error {
				return cm.redis.Del(ctx, keys...).Err()
			})
			if err != nil {
				return fmt.Errorf("delete claims: %w", err)
			}
		}

		if cursor == 0 {
			break
		}
	}

	for id, fields := range owners {
		key, err := cm.Claim(ctx, entity, collection, fields)
		if err != nil {
			return fmt.Errorf("rebuild claim for %s: %w", id, err)
		}
		if err := cm.Confirm(ctx, key, id); err != nil {
			return fmt.Errorf("confirm claim for %s: %w", id, err)
		}
	}

	return nil
}

// key renders the claim key for fields. Integers of any width hash alike.
func (cm *ClaimManager) key(collection string, fields Attrs) (string, error) {
	hasher := sha256.New()
	var size [4]byte

	for _, k := range sortedKeys(fields) {
		typ, data, err := bson.MarshalValue(canonicalValue(fields[k]))
		if err != nil {
			return "", &ValidationError{Field: k, Reason: "cannot encode constrained value", Err: err}
		}

		binary.BigEndian.PutUint32(size[:], uint32(len(k)))
		hasher.Write(size[:])
		hasher.Write([]byte(k))
		hasher.Write([]byte{byte(typ)})
		binary.BigEndian.PutUint32(size[:], uint32(len(data)))
		hasher.Write(size[:])
		hasher.Write(data)
	}

	return fmt.Sprintf("%s:%s:%s", cm.prefix, collection, hex.EncodeToString(hasher.Sum(nil))), nil
}

func canonicalValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	}
	return v
}
