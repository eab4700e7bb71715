package examples

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/statquery/statquery/internal/config"
)

// redisSource loads curated question→SQL pairs from a Redis list. Each entry
// is a JSON-encoded Example; malformed entries are skipped rather than
// failing the whole corpus.
type redisSource struct {
	client *redis.Client
	key    string
}

func newRedisSource(cfg config.ExamplesConfig) *redisSource {
	return &redisSource{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
		key: cfg.RedisKey,
	}
}

func (s *redisSource) load(ctx context.Context) ([]Example, error) {
	entries, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load examples from redis: %w", err)
	}

	// An empty list is a valid corpus.
	return decodeEntries(entries), nil
}

func decodeEntries(entries []string) []Example {
	examples := make([]Example, 0, len(entries))

	for _, entry := range entries {
		var example Example
		if err := json.Unmarshal([]byte(entry), &example); err != nil {
			continue
		}

		if example.Question == "" || example.SQL == "" {
			continue
		}

		examples = append(examples, example)
	}

	return examples
}
