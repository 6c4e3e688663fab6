package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

func sessionKey(key string) string {
	return fmt.Sprintf("sessiond:session:%s", key)
}

func sessionTypeSet(typ string) string {
	return fmt.Sprintf("sessiond:sessions:%s", typ)
}

// Upsert creates or updates a persisted session record.
func (s *sessionStore) Upsert(ctx context.Context, record storage.SessionRecord) error {
	fields := map[string]interface{}{
		"key":           record.Key,
		"type":          record.Type,
		"user_id":       record.UserID,
		"org_id":        record.OrgID,
		"chart_type":    record.ChartType,
		"chart_name":    record.ChartName,
		"start_time":    record.StartTime.Format(time.RFC3339Nano),
		"activity_seen": record.ActivitySeen,
	}
	if record.LastActivityTime != nil {
		fields["last_activity_time"] = record.LastActivityTime.Format(time.RFC3339Nano)
	} else {
		fields["last_activity_time"] = ""
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(record.Key), fields)
	pipe.SAdd(ctx, sessionTypeSet(record.Type), record.Key)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session record and its index entries.
func (s *sessionStore) Delete(ctx context.Context, key string) error {
	data, err := s.client.HGetAll(ctx, sessionKey(key)).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return storage.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(key))
	pipe.SRem(ctx, sessionTypeSet(data["type"]), key)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a session record by key.
func (s *sessionStore) Get(ctx context.Context, key string) (*storage.SessionRecord, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(key)).Result()
	if err != nil {
		return nil, err
	}
	return parseSessionRecord(data)
}

// List retrieves all session records of the given type, or all records when
// typ is empty.
func (s *sessionStore) List(ctx context.Context, typ string) ([]storage.SessionRecord, error) {
	types := []string{typ}
	if typ == "" {
		types = []string{"user", "chart"}
	}

	keys := make([]string, 0)
	for _, t := range types {
		members, err := s.client.SMembers(ctx, sessionTypeSet(t)).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, members...)
	}

	if len(keys) == 0 {
		return []storage.SessionRecord{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.SessionRecord, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := parseSessionRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	return records, nil
}
