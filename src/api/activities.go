package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/store"
)

const (
	defaultFeedLimit = 20
	defaultListLimit = 50
)

type activityRequest struct {
	Action   string `json:"action" validate:"required"`
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

func (s *Server) handleRecentActivities(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	acts, err := s.store.RecentActivities(ctx, store.ClampLimit(queryLimit(c), defaultFeedLimit))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"activities": acts})
}

func (s *Server) handleRoomActivities(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	acts, err := s.store.ActivitiesByRoom(ctx, c.Params("roomId"), store.ClampLimit(queryLimit(c), defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"activities": acts})
}

func (s *Server) handleMyActivities(c fiber.Ctx) error {
	ctx, cancel := s.ctx()
	defer cancel()
	acts, err := s.store.ActivitiesByUser(ctx, currentUser(c).ID, store.ClampLimit(queryLimit(c), defaultListLimit))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"activities": acts})
}

func (s *Server) handleCreateActivity(c fiber.Ctx) error {
	var req activityRequest
	if ok, err := s.bindJSON(c, &req); !ok {
		return err
	}

	user := currentUser(c)
	ctx, cancel := s.ctx()
	defer cancel()
	act, err := s.store.CreateActivity(ctx, store.NewActivity{
		UserID:   user.ID,
		UserName: user.Name,
		Action:   req.Action,
		RoomID:   req.RoomID,
		RoomName: req.RoomName,
	})
	if err != nil {
		return err
	}
	if req.RoomID != "" {
		err := s.store.IncrementRoomContent(ctx, req.RoomID)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug().Str("room_id", req.RoomID).Msg("activity for unknown room")
		} else if err != nil {
			s.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("count room content")
		}
	}

	if err := s.rt.PublishActivity(act); err != nil {
		s.logger.Warn().Err(err).Str("activity_id", act.ID).Msg("broadcast activity")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"activity": act})
}
