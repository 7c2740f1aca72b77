package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/repository"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/pkg/response"
)

// writeError maps service errors to the response envelope
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrUnknownJobKind), errors.Is(err, client.ErrInvalidParams):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, client.ErrLyricsNotAvailable):
		return response.NotAvailable(c, "Lyrics not available for this song")
	case errors.Is(err, service.ErrNoStream):
		return response.NotAvailable(c, "Song has no playable audio")
	case errors.Is(err, client.ErrProviderRejected):
		return response.ProviderRejected(c, err.Error())
	case errors.Is(err, client.ErrProviderUnavailable):
		return response.ProviderUnavailable(c, err.Error())
	case errors.Is(err, repository.ErrProjectNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Not found")
	}
	return response.ServiceError(c, err.Error())
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
