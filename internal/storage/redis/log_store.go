package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"github.com/redis/go-redis/v9"
)

const logZSet = "sessiond:logs"

type logStore struct {
	client *redis.Client
}

// Append adds a log entry to the time-ordered log. Entries are stored as
// JSON members of a sorted set scored by log time, so range deletion by
// time is a single command.
func (s *logStore) Append(ctx context.Context, entry storage.SessionLogEntry) error {
	if entry.LogTime.IsZero() {
		entry.LogTime = time.Now().UTC()
	}
	if entry.ID == "" {
		id, err := randomLogID(entry.LogTime)
		if err != nil {
			return err
		}
		entry.ID = id
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	return s.client.ZAdd(ctx, logZSet, redis.Z{
		Score:  float64(entry.LogTime.UnixNano()),
		Member: string(data),
	}).Err()
}

// Query retrieves log entries matching the filter in log-time order.
func (s *logStore) Query(ctx context.Context, filter storage.SessionLogFilter) ([]storage.SessionLogEntry, error) {
	members, err := s.client.ZRange(ctx, logZSet, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]storage.SessionLogEntry, 0)
	skipped := 0
	for _, member := range members {
		var entry storage.SessionLogEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		if !matchesFilter(entry, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}

	return entries, nil
}

// DeleteBefore removes all entries logged strictly before the cutoff.
func (s *logStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	max := strconv.FormatInt(cutoff.UnixNano()-1, 10)
	removed, err := s.client.ZRemRangeByScore(ctx, logZSet, "-inf", max).Result()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func matchesFilter(entry storage.SessionLogEntry, filter storage.SessionLogFilter) bool {
	if filter.Username != "" && entry.Username != filter.Username {
		return false
	}
	if filter.Event != "" && entry.Event != filter.Event {
		return false
	}
	if filter.StartTime != nil && entry.EventTime.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.EventTime.After(*filter.EndTime) {
		return false
	}
	return true
}

func randomLogID(ts time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random log id: %w", err)
	}
	return fmt.Sprintf("%020d-%s", ts.UnixNano(), hex.EncodeToString(buf)), nil
}
