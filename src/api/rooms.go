package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/store"
	"github.com/orchestra-mcp/nexus/src/types"
)

func (s *Server) handleListRooms(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rooms": rooms})
}

func (s *Server) handleRoomsByExam(c fiber.Ctx) error {
	exam := c.Params("exam")
	if !types.IsExam(exam) {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid exam type")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	rooms, err := s.store.RoomsByExam(ctx, exam)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rooms": rooms})
}

func (s *Server) handleGetRoom(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	room, err := s.store.GetRoom(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Room not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"room": room})
}

func (s *Server) handleJoinRoom(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	room, err := s.store.JoinRoom(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Room not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"room": room})
}

func (s *Server) handleLeaveRoom(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.store.LeaveRoom(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Room not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
