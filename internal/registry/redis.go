package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"fab/enumerator/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Claims are compared against the owner before they are touched, so a worker
// whose claim expired cannot extend or delete its successor's claim.
var (
	renewClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
	releaseClaimScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
)

type redisRegistry struct {
	redisClient *redis.Client
	keyPrefix   string
	owner       string
}

// NewRedisRegistry stores the registry under keyPrefix. owner is written as
// the value of partition claims, which makes stale claims attributable.
func NewRedisRegistry(redisClient *redis.Client, keyPrefix, owner string) Registry {
	return &redisRegistry{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		owner:       owner,
	}
}

func (r *redisRegistry) categoriesKey() string { return r.keyPrefix + "categories" }
func (r *redisRegistry) expandedKey() string   { return r.keyPrefix + "expanded" }
func (r *redisRegistry) partitionsKey() string { return r.keyPrefix + "partitions" }
func (r *redisRegistry) claimKey(key string) string {
	return r.keyPrefix + "claim:" + key
}

func (r *redisRegistry) AddCategory(ctx context.Context, node domain.CategoryNode) (bool, error) {
	data, err := json.Marshal(node)
	if err != nil {
		return false, fmt.Errorf("failed to serialize category %s: %w", node.Key(), err)
	}

	added, err := r.redisClient.HSetNX(ctx, r.categoriesKey(), node.Key(), data).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record category %s: %w", node.Key(), err)
	}
	return added, nil
}

func (r *redisRegistry) Categories(ctx context.Context) ([]domain.CategoryNode, error) {
	values, err := r.redisClient.HGetAll(ctx, r.categoriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	nodes := make([]domain.CategoryNode, 0, len(values))
	for key, value := range values {
		var node domain.CategoryNode
		if err := json.Unmarshal([]byte(value), &node); err != nil {
			return nil, fmt.Errorf("failed to decode category %s: %w", key, err)
		}
		nodes = append(nodes, node)
	}

	// Hashes are unordered; restore discovery order
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].DiscoveredAt.Equal(nodes[j].DiscoveredAt) {
			return nodes[i].DiscoveredAt.Before(nodes[j].DiscoveredAt)
		}
		return nodes[i].Key() < nodes[j].Key()
	})
	return nodes, nil
}

func (r *redisRegistry) MarkExpanded(ctx context.Context, url string) error {
	if err := r.redisClient.SAdd(ctx, r.expandedKey(), url).Err(); err != nil {
		return fmt.Errorf("failed to mark %s expanded: %w", url, err)
	}
	return nil
}

func (r *redisRegistry) IsExpanded(ctx context.Context, url string) (bool, error) {
	expanded, err := r.redisClient.SIsMember(ctx, r.expandedKey(), url).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check expansion of %s: %w", url, err)
	}
	return expanded, nil
}

func (r *redisRegistry) CompletePartition(ctx context.Context, outcome domain.PartitionOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to serialize outcome for %s: %w", outcome.Key, err)
	}

	if err := r.redisClient.HSetNX(ctx, r.partitionsKey(), outcome.Key, data).Err(); err != nil {
		return fmt.Errorf("failed to complete partition %s: %w", outcome.Key, err)
	}
	return nil
}

func (r *redisRegistry) PartitionOutcome(ctx context.Context, key string) (*domain.PartitionOutcome, error) {
	value, err := r.redisClient.HGet(ctx, r.partitionsKey(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not completed yet
		}
		return nil, fmt.Errorf("failed to load outcome for %s: %w", key, err)
	}

	var outcome domain.PartitionOutcome
	if err := json.Unmarshal([]byte(value), &outcome); err != nil {
		return nil, fmt.Errorf("failed to decode outcome for %s: %w", key, err)
	}
	return &outcome, nil
}

func (r *redisRegistry) ClaimPartition(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := r.redisClient.SetNX(ctx, r.claimKey(key), r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim partition %s: %w", key, err)
	}
	return claimed, nil
}

func (r *redisRegistry) RenewPartition(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	renewed, err := renewClaimScript.Run(ctx, r.redisClient, []string{r.claimKey(key)}, r.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew claim on partition %s: %w", key, err)
	}
	return renewed == 1, nil
}

func (r *redisRegistry) ReleasePartition(ctx context.Context, key string) error {
	if err := releaseClaimScript.Run(ctx, r.redisClient, []string{r.claimKey(key)}, r.owner).Err(); err != nil {
		return fmt.Errorf("failed to release partition %s: %w", key, err)
	}
	return nil
}
