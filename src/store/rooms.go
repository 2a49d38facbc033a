package store

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/nexus/src/types"
	"gorm.io/gorm"
)

// ListRooms returns all rooms, largest first.
func (s *Store) ListRooms(ctx context.Context) ([]types.GoalRoom, error) {
	return s.listRooms(s.db.WithContext(ctx))
}

// RoomsByExam returns the rooms of one exam track, largest first.
func (s *Store) RoomsByExam(ctx context.Context, exam string) ([]types.GoalRoom, error) {
	return s.listRooms(s.db.WithContext(ctx).Where("exam = ?", exam))
}

func (s *Store) listRooms(q *gorm.DB) ([]types.GoalRoom, error) {
	var rows []GoalRoom
	if err := q.Order("member_count DESC").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]types.GoalRoom, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToType())
	}
	return out, nil
}

// GetRoom returns one room or ErrNotFound.
func (s *Store) GetRoom(ctx context.Context, id string) (types.GoalRoom, error) {
	var row GoalRoom
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return types.GoalRoom{}, notFound(err)
	}
	return row.ToType(), nil
}

// JoinRoom increments the member count in a single statement so concurrent
// joins never lose an update, then returns the fresh row.
func (s *Store) JoinRoom(ctx context.Context, id string) (types.GoalRoom, error) {
	if err := s.bumpRoom(ctx, id, "member_count", gorm.Expr("member_count + 1")); err != nil {
		return types.GoalRoom{}, err
	}
	return s.GetRoom(ctx, id)
}

// LeaveRoom decrements the member count, never below zero.
func (s *Store) LeaveRoom(ctx context.Context, id string) error {
	return s.bumpRoom(ctx, id, "member_count",
		gorm.Expr("CASE WHEN member_count > 0 THEN member_count - 1 ELSE 0 END"))
}

// IncrementRoomContent bumps the content counter of a room.
func (s *Store) IncrementRoomContent(ctx context.Context, id string) error {
	return s.bumpRoom(ctx, id, "content_count", gorm.Expr("content_count + 1"))
}

func (s *Store) bumpRoom(ctx context.Context, id, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&GoalRoom{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("update room %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
