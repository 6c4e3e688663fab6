package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kmetric/sessiond/internal/storage"
)

// parseSessionRecord converts a Redis hash to a SessionRecord.
func parseSessionRecord(data map[string]string) (*storage.SessionRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := time.Parse(time.RFC3339Nano, data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	var lastActivity *time.Time
	if raw := data["last_activity_time"]; raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_activity_time: %w", err)
		}
		lastActivity = &parsed
	}

	activitySeen, err := strconv.ParseBool(data["activity_seen"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse activity_seen: %w", err)
	}

	return &storage.SessionRecord{
		Key:              data["key"],
		Type:             data["type"],
		UserID:           data["user_id"],
		OrgID:            data["org_id"],
		ChartType:        data["chart_type"],
		ChartName:        data["chart_name"],
		StartTime:        startTime,
		LastActivityTime: lastActivity,
		ActivitySeen:     activitySeen,
	}, nil
}

// parseDailyUsage converts a Redis hash to a DailyUsage row.
func parseDailyUsage(data map[string]string) (*storage.DailyUsage, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	currentMS, err := strconv.ParseInt(data["current_session_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse current_session_ms: %w", err)
	}

	totalMS, err := strconv.ParseInt(data["total_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_ms: %w", err)
	}

	return &storage.DailyUsage{
		Key:              data["key"],
		Date:             data["date"],
		Type:             data["type"],
		UserID:           data["user_id"],
		OrgID:            data["org_id"],
		ChartType:        data["chart_type"],
		ChartName:        data["chart_name"],
		CurrentSessionMS: currentMS,
		TotalMS:          totalMS,
	}, nil
}
