package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
)

func (s *Server) handlePresence(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	users, err := s.rt.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"users": users})
}

func (s *Server) handleWSInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  s.cfg.Socket.Path,
		"clients":   s.rt.ClientCount(),
		"channels":  len(s.rt.Channels()),
	})
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	status, code := "ok", fiber.StatusOK
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("health: database ping failed")
		status, code = "degraded", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"database":  s.cfg.DatabaseKind(),
		"mode":      s.cfg.Mode,
	})
}
