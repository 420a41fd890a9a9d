package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"practice-insights/internal/planner"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "practice:bulk:"
	summaryKey = "practice:summary:latest"
)

// Cache stores bulk results in Redis keyed by intent and filters.
type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCache(rdb redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key derives a stable cache key from intent and sorted filter pairs.
func Key(intent planner.Intent, filters map[string]interface{}) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(string(intent))
	for _, k := range keys {
		v, err := json.Marshal(filters[k])
		if err != nil {
			v = []byte(fmt.Sprint(filters[k]))
		}
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.Write(v)
	}
	return b.String()
}

// Get returns cached rows. A miss returns (nil, false, nil).
func (c *Cache) Get(ctx context.Context, intent planner.Intent, plan planner.DataPlan) ([]Row, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(intent, plan.Filters)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return rows, true, nil
}

func (c *Cache) Set(ctx context.Context, intent planner.Intent, plan planner.DataPlan, rows []Row) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, Key(intent, plan.Filters), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// SetSummary stores the latest export summary; it does not expire.
func (c *Cache) SetSummary(ctx context.Context, summary interface{}) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("cache encode summary: %w", err)
	}
	return c.rdb.Set(ctx, summaryKey, raw, 0).Err()
}

// Summary decodes the latest export summary into out.
func (c *Cache) Summary(ctx context.Context, out interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, summaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get summary: %w", err)
	}
	return true, json.Unmarshal(raw, out)
}

// Invalidate drops every cached bulk result, used after a new export lands.
func (c *Cache) Invalidate(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache delete: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
