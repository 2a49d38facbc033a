package store

import (
	"context"
	"fmt"
	"time"

	"github.com/orchestra-mcp/nexus/src/types"
	"gorm.io/gorm"
)

// MaxActivityLimit caps every activity listing.
const MaxActivityLimit = 100

// ClampLimit applies the listing default and the server cap.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

// NewActivity carries the fields of an activity to create.
type NewActivity struct {
	UserID   string
	UserName string
	Action   string
	RoomID   string
	RoomName string
}

// CreateActivity persists an activity and returns it.
func (s *Store) CreateActivity(ctx context.Context, in NewActivity) (types.Activity, error) {
	row := Activity{
		ID:        NewID(),
		UserID:    in.UserID,
		UserName:  in.UserName,
		Action:    in.Action,
		RoomID:    optional(in.RoomID),
		RoomName:  optional(in.RoomName),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.Activity{}, fmt.Errorf("create activity: %w", err)
	}
	return row.ToType(), nil
}

// RecentActivities returns the newest activities.
func (s *Store) RecentActivities(ctx context.Context, limit int) ([]types.Activity, error) {
	return s.listActivities(s.db.WithContext(ctx), limit)
}

// ActivitiesByUser returns the newest activities of one user.
func (s *Store) ActivitiesByUser(ctx context.Context, userID string, limit int) ([]types.Activity, error) {
	return s.listActivities(s.db.WithContext(ctx).Where("user_id = ?", userID), limit)
}

// ActivitiesByRoom returns the newest activities of one room.
func (s *Store) ActivitiesByRoom(ctx context.Context, roomID string, limit int) ([]types.Activity, error) {
	return s.listActivities(s.db.WithContext(ctx).Where("room_id = ?", roomID), limit)
}

func (s *Store) listActivities(q *gorm.DB, limit int) ([]types.Activity, error) {
	limit = ClampLimit(limit, MaxActivityLimit)
	var rows []Activity
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]types.Activity, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToType())
	}
	return out, nil
}

// DeleteActivitiesBefore removes activities created before cutoff.
func (s *Store) DeleteActivitiesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&Activity{}, "created_at < ?", cutoff.UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("delete old activities: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
