// Package auth issues and validates cookie sessions for the mock Google
// sign-in flow.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/nexus/src/store"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoSession means the request carried no session token.
	ErrNoSession = errors.New("not authenticated")
	// ErrSessionExpired means the token is unknown, expired, or belongs to a
	// deleted user.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoChanges means a profile update carried no fields.
	ErrNoChanges = errors.New("no changes made")
)

// Session is an issued session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// Service implements login, session validation and profile updates.
type Service struct {
	store  *store.Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service issuing sessions valid for ttl.
func New(st *store.Store, ttl time.Duration, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "auth").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login finds or creates the user with email and opens a new session.
func (s *Service) Login(ctx context.Context, email, name string, avatarURL *string) (types.User, Session, error) {
	u, err := s.store.CreateOrGetUser(ctx, email, name, avatarURL)
	if err != nil {
		return types.User{}, Session{}, err
	}

	token, err := newToken()
	if err != nil {
		return types.User{}, Session{}, err
	}
	sess := store.Session{
		ID:        token,
		UserID:    u.ID,
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return types.User{}, Session{}, err
	}

	s.logger.Info().Str("user_id", u.ID).Msg("session created")
	return u.ToType(), Session{Token: token, ExpiresAt: sess.ExpiresAt}, nil
}

// Validate resolves a session token to its user. An expired session is
// deleted on the way out.
func (s *Service) Validate(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, ErrNoSession
	}

	sess, err := s.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, ErrSessionExpired
	}
	if err != nil {
		return types.User{}, err
	}

	if sess.ExpiresAt.Before(s.now()) {
		if _, err := s.store.DeleteSession(ctx, token); err != nil {
			s.logger.Warn().Err(err).Msg("delete expired session")
		}
		return types.User{}, ErrSessionExpired
	}

	u, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, ErrSessionExpired
	}
	if err != nil {
		return types.User{}, err
	}
	return u.ToType(), nil
}

// Logout deletes the session if it exists.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.store.DeleteSession(ctx, token)
	return err
}

// LogoutEverywhere removes every session of a user.
func (s *Service) LogoutEverywhere(ctx context.Context, userID string) (int64, error) {
	return s.store.DeleteUserSessions(ctx, userID)
}

// UpdateProfile applies upd and returns the refreshed user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd store.UserUpdate) (types.User, error) {
	changed, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return types.User{}, err
	}
	if !changed {
		return types.User{}, ErrNoChanges
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return types.User{}, err
	}
	return u.ToType(), nil
}

// CleanupExpired deletes sessions past their expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now())
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
