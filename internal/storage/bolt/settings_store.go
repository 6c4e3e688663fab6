package bolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

type settingsStore struct {
	db *bbolt.DB
}

type timeoutSetting struct {
	Seconds int `json:"seconds"`
}

func timeoutKey(typ string) string {
	return fmt.Sprintf("session_timeout/%s", typ)
}

func (s *settingsStore) GetSessionTimeout(ctx context.Context, typ string) (int, error) {
	setting, err := getBucketValue[timeoutSetting](ctx, s.db, bucketSettings, timeoutKey(typ))
	if err != nil {
		return 0, err
	}
	return setting.Seconds, nil
}

func (s *settingsStore) SetSessionTimeout(ctx context.Context, typ string, seconds int) error {
	return putBucketValue(ctx, s.db, bucketSettings, timeoutKey(typ), timeoutSetting{Seconds: seconds})
}
