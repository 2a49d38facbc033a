package store

import (
	"context"
	"fmt"
	"time"
)

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a session or ErrNotFound. Expiry is not checked here.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// DeleteSession removes one session and reports whether it existed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&Session{}, "id = ?", id)
	if res.Error != nil {
		return false, fmt.Errorf("delete session: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteUserSessions removes every session of a user.
func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&Session{}, "user_id = ?", userID)
	if res.Error != nil {
		return 0, fmt.Errorf("delete user sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteExpiredSessions removes sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&Session{}, "expires_at < ?", now.UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
