package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Upsert(ctx context.Context, usage storage.DailyUsage) error {
	return putBucketValue(ctx, s.db, bucketDailyUsage, usage.Key, usage)
}

func (s *usageStore) Get(ctx context.Context, key string) (*storage.DailyUsage, error) {
	return getBucketValue[storage.DailyUsage](ctx, s.db, bucketDailyUsage, key)
}

func (s *usageStore) ListByDate(ctx context.Context, date string) ([]storage.DailyUsage, error) {
	all, err := listBucket[storage.DailyUsage](ctx, s.db, bucketDailyUsage)
	if err != nil {
		return nil, err
	}
	if date == "" {
		return all, nil
	}
	entries := make([]storage.DailyUsage, 0, len(all))
	for _, entry := range all {
		if entry.Date == date {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse("2006-01-02", cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var usage storage.DailyUsage
			if err := unmarshal(v, &usage); err != nil {
				return err
			}
			dateValue, err := time.Parse("2006-01-02", usage.Date)
			if err != nil {
				continue
			}
			if dateValue.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
