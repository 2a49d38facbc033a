package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/nexus/src/store"
)

func errorJSON(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// handleError is the fiber ErrorHandler. Unexpected errors are logged and
// hidden behind a generic 500.
func (s *Server) handleError(c fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Not found")
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return errorJSON(c, fe.Code, fe.Message)
	}

	s.logger.Error().
		Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return errorJSON(c, fiber.StatusInternalServerError, "Internal server error")
}

// bindJSON decodes and validates a request body. A non-nil error has
// already been written to the response.
func (s *Server) bindJSON(c fiber.Ctx, out any) (bool, error) {
	if err := c.Bind().JSON(out); err != nil {
		return false, errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return false, err
		}
		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldMessage(fe))
		}
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Validation failed",
			"details": details,
		})
	}
	return true, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
