package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/auth"
	"github.com/orchestra-mcp/nexus/src/store"
)

type loginRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Name      string  `json:"name" validate:"required,min=1"`
	AvatarURL *string `json:"avatarUrl"`
}

type profileRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty,url"`
}

func (s *Server) handleLogin(c fiber.Ctx) error {
	var req loginRequest
	if ok, err := s.bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	user, sess, err := s.auth.Login(ctx, req.Email, req.Name, req.AvatarURL)
	if err != nil {
		return err
	}

	s.setSession(c, sess.Token, sess.ExpiresAt)
	return c.JSON(fiber.Map{"user": user, "expiresAt": sess.ExpiresAt})
}

func (s *Server) handleMe(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"user": currentUser(c)})
}

func (s *Server) handleLogout(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.auth.Logout(ctx, c.Cookies(s.cfg.Session.CookieName)); err != nil {
		return err
	}
	s.clearSession(c)
	return c.JSON(fiber.Map{"success": true})
}

// handleLogoutAll ends every session of the current user, on all devices.
func (s *Server) handleLogoutAll(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.auth.LogoutEverywhere(ctx, currentUser(c).ID)
	if err != nil {
		return err
	}
	s.clearSession(c)
	return c.JSON(fiber.Map{"success": true, "sessions": n})
}

func (s *Server) handleUpdateProfile(c fiber.Ctx) error {
	var req profileRequest
	if ok, err := s.bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	user, err := s.auth.UpdateProfile(ctx, currentUser(c).ID, store.UserUpdate{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if errors.Is(err, auth.ErrNoChanges) {
		return errorJSON(c, fiber.StatusBadRequest, "No changes made")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user": user})
}
