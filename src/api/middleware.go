package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/auth"
	"github.com/orchestra-mcp/nexus/src/types"
	"github.com/rs/zerolog"
)

type localsKey int

const userKey localsKey = iota

// requestLogger emits one zerolog event per request.
func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Info()
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

// requireUser resolves the session cookie and stores the user in locals.
func (s *Server) requireUser(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()

	user, err := s.auth.Validate(ctx, c.Cookies(s.cfg.Session.CookieName))
	switch {
	case errors.Is(err, auth.ErrNoSession):
		return errorJSON(c, fiber.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, auth.ErrSessionExpired):
		s.clearSession(c)
		return errorJSON(c, fiber.StatusUnauthorized, "Session expired")
	case err != nil:
		return err
	}
	c.Locals(userKey, user)
	return c.Next()
}

func currentUser(c fiber.Ctx) types.User {
	u, _ := c.Locals(userKey).(types.User)
	return u
}

func (s *Server) setSession(c fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.cfg.Production(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (s *Server) clearSession(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   s.cfg.Production(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// queryLimit parses ?limit=, treating a missing or malformed value as 0 so
// the caller's default applies.
func queryLimit(c fiber.Ctx) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}
