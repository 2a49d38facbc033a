package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UserUpdate carries optional profile changes.
type UserUpdate struct {
	Name      *string
	AvatarURL *string
}

// CreateOrGetUser returns the user with email, creating it when missing.
func (s *Store) CreateOrGetUser(ctx context.Context, email, name string, avatarURL *string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	u = User{
		ID:        NewID(),
		Email:     email,
		Name:      name,
		AvatarURL: avatarURL,
	}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpdateUser applies the non-nil fields of upd. It reports false when there
// was nothing to change or the user does not exist.
func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (bool, error) {
	changes := map[string]any{}
	if upd.Name != nil {
		changes["name"] = *upd.Name
	}
	if upd.AvatarURL != nil {
		changes["avatar_url"] = *upd.AvatarURL
	}
	if len(changes) == 0 {
		return false, nil
	}
	changes["updated_at"] = time.Now()

	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return false, fmt.Errorf("update user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
