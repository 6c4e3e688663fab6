package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kmetric/sessiond/internal/storage"
	"github.com/redis/go-redis/v9"
)

type settingsStore struct {
	client *redis.Client
}

func timeoutKey(typ string) string {
	return fmt.Sprintf("sessiond:settings:session_timeout:%s", typ)
}

func (s *settingsStore) GetSessionTimeout(ctx context.Context, typ string) (int, error) {
	value, err := s.client.Get(ctx, timeoutKey(typ)).Result()
	if err == redis.Nil {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid stored timeout: %w", err)
	}
	return seconds, nil
}

func (s *settingsStore) SetSessionTimeout(ctx context.Context, typ string, seconds int) error {
	return s.client.Set(ctx, timeoutKey(typ), strconv.Itoa(seconds), 0).Err()
}
