package bolt

import (
	"context"

	"github.com/kmetric/sessiond/internal/storage"
	"go.etcd.io/bbolt"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Upsert(ctx context.Context, record storage.SessionRecord) error {
	return putBucketValue(ctx, s.db, bucketSessions, record.Key, record)
}

func (s *sessionStore) Delete(ctx context.Context, key string) error {
	return deleteBucketValue(ctx, s.db, bucketSessions, key)
}

func (s *sessionStore) Get(ctx context.Context, key string) (*storage.SessionRecord, error) {
	return getBucketValue[storage.SessionRecord](ctx, s.db, bucketSessions, key)
}

func (s *sessionStore) List(ctx context.Context, typ string) ([]storage.SessionRecord, error) {
	all, err := listBucket[storage.SessionRecord](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		return all, nil
	}
	records := make([]storage.SessionRecord, 0, len(all))
	for _, record := range all {
		if record.Type == typ {
			records = append(records, record)
		}
	}
	return records, nil
}
