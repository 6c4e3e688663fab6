package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"go.etcd.io/bbolt"
)

type logStore struct {
	db *bbolt.DB
}

func (s *logStore) Append(ctx context.Context, entry storage.SessionLogEntry) error {
	if entry.LogTime.IsZero() {
		entry.LogTime = time.Now().UTC()
	}
	if entry.ID == "" {
		key, err := logKey(entry.LogTime)
		if err != nil {
			return err
		}
		entry.ID = key
	}
	data, err := marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketSessionLog))
		if bucket == nil {
			return fmt.Errorf("session log bucket missing")
		}
		return bucket.Put([]byte(entry.ID), data)
	})
}

func (s *logStore) Query(ctx context.Context, filter storage.SessionLogFilter) ([]storage.SessionLogEntry, error) {
	entries := make([]storage.SessionLogEntry, 0)
	skipped := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessionLog))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var entry storage.SessionLogEntry
			if err := unmarshal(v, &entry); err != nil {
				return err
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
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *logStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessionLog))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var entry storage.SessionLogEntry
			if err := unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.LogTime.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
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
