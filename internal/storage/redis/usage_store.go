package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func usageKey(key string) string {
	return fmt.Sprintf("sessiond:usage:%s", key)
}

func usageDateSet(date string) string {
	return fmt.Sprintf("sessiond:usage:date:%s", date)
}

const usageDatesSet = "sessiond:usage:dates"

// Upsert creates or updates a daily usage row.
func (s *usageStore) Upsert(ctx context.Context, usage storage.DailyUsage) error {
	fields := map[string]interface{}{
		"key":                usage.Key,
		"date":               usage.Date,
		"type":               usage.Type,
		"user_id":            usage.UserID,
		"org_id":             usage.OrgID,
		"chart_type":         usage.ChartType,
		"chart_name":         usage.ChartName,
		"current_session_ms": usage.CurrentSessionMS,
		"total_ms":           usage.TotalMS,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, usageKey(usage.Key), fields)
	pipe.SAdd(ctx, usageDateSet(usage.Date), usage.Key)
	pipe.SAdd(ctx, usageDatesSet, usage.Date)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a daily usage row by key.
func (s *usageStore) Get(ctx context.Context, key string) (*storage.DailyUsage, error) {
	data, err := s.client.HGetAll(ctx, usageKey(key)).Result()
	if err != nil {
		return nil, err
	}
	return parseDailyUsage(data)
}

// ListByDate retrieves all usage rows for a date, or all rows when date is
// empty.
func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	dates := []string{date}
	if date == "" {
		all, err := s.client.SMembers(ctx, usageDatesSet).Result()
		if err != nil {
			return nil, err
		}
		dates = all
	}

	entries := make([]storage.DailyUsage, 0)
	for _, d := range dates {
		keys, err := s.client.SMembers(ctx, usageDateSet(d)).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			continue
		}

		pipe := s.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, usageKey(key))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, err
		}

		for _, cmd := range cmds {
			data, err := cmd.Result()
			if err != nil || len(data) == 0 {
				continue
			}
			entry, err := parseDailyUsage(data)
			if err == nil {
				entries = append(entries, *entry)
			}
		}
	}

	return entries, nil
}

// DeleteBefore removes usage rows for dates strictly before the cutoff.
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	dates, err := s.client.SMembers(ctx, usageDatesSet).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		dateValue, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		if !dateValue.Before(cutoff) {
			continue
		}

		keys, err := s.client.SMembers(ctx, usageDateSet(date)).Result()
		if err != nil {
			return deleted, err
		}

		pipe := s.client.TxPipeline()
		for _, key := range keys {
			pipe.Del(ctx, usageKey(key))
		}
		pipe.Del(ctx, usageDateSet(date))
		pipe.SRem(ctx, usageDatesSet, date)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted += len(keys)
	}

	return deleted, nil
}
