package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/GurpreetSingh-21/Community-Talk/internal/identity"
	"github.com/GurpreetSingh-21/Community-Talk/internal/messaging"
	"github.com/GurpreetSingh-21/Community-Talk/internal/store"
)

const codeValidation = "VALIDATION"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ErrorHandler renders every error as {"error": ..., "code": ...}.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		body := errorBody{Error: "internal server error"}

		var authErr *identity.AuthError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &authErr):
			status = fiber.StatusUnauthorized
			body = errorBody{Error: authErr.Err.Error(), Code: string(authErr.Code)}
		case errors.Is(err, messaging.ErrContentRequired),
			errors.Is(err, messaging.ErrCommunityRequired),
			errors.Is(err, messaging.ErrRecipientRequired),
			errors.Is(err, store.ErrInvalidMessage):
			status = fiber.StatusBadRequest
			body = errorBody{Error: err.Error(), Code: codeValidation}
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			body = errorBody{Error: fiberErr.Message}
		default:
			logger.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		return c.Status(status).JSON(body)
	}
}
