package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/store"
	"github.com/orchestra-mcp/nexus/src/types"
)

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=green yellow red"`
}

func (s *Server) handleListNodes(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"nodes": nodes})
}

func (s *Server) handleNodesByExam(c fiber.Ctx) error {
	exam := c.Params("exam")
	if !types.IsExam(exam) {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid exam type")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	nodes, err := s.store.NodesByExam(ctx, exam)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"nodes": nodes})
}

func (s *Server) handleGetNode(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	node, err := s.store.GetNode(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Node not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"node": node})
}

func (s *Server) handleUpdateNodeStatus(c fiber.Ctx) error {
	var req statusRequest
	if err := c.Bind().JSON(&req); err != nil || !types.IsNodeStatus(req.Status) {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid status")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	err := s.store.UpdateNodeStatus(ctx, c.Params("id"), req.Status)
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Node not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
