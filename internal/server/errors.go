package server

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Error is the JSON body of every failed request.
type Error struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

func NewError(code int, msg string) Error {
	return Error{Code: code, Message: msg}
}

func ErrBadRequest() Error {
	return NewError(fiber.StatusBadRequest, "invalid JSON request")
}

func ErrUnauthorized() Error {
	return NewError(fiber.StatusUnauthorized, "unauthorized")
}

func ErrNotFound(what string) Error {
	return NewError(fiber.StatusNotFound, what+" not found")
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Success bool              `json:"success"`
	Status  int               `json:"status"`
	Errors  map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errs map[string]string) ValidationError {
	return ValidationError{Status: fiber.StatusUnprocessableEntity, Errors: errs}
}

// ErrorHandler renders handler errors as JSON. Errors that are neither an
// Error, a ValidationError nor a *fiber.Error become a 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			apiErr Error
			valErr ValidationError
			fbErr  *fiber.Error
		)
		switch {
		case errors.As(err, &valErr):
			return c.Status(valErr.Status).JSON(valErr)
		case errors.As(err, &apiErr):
		case errors.As(err, &fbErr):
			apiErr = NewError(fbErr.Code, fbErr.Message)
		default:
			apiErr = NewError(fiber.StatusInternalServerError, err.Error())
		}

		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
		} else {
			logger.Debug("request rejected", "method", c.Method(), "path", c.Path(), "code", apiErr.Code, "error", err)
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}
