package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/pkg/response"
)

type AccountHandler struct {
	service   *service.AccountService
	validator *validator.Validate
}

func NewAccountHandler(svc *service.AccountService, v *validator.Validate) *AccountHandler {
	return &AccountHandler{
		service:   svc,
		validator: v,
	}
}

// Credits handles GET /api/credits
func (h *AccountHandler) Credits(c *fiber.Ctx) error {
	data, err := h.service.Credits(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, fiber.Map{"data": data})
}

// BoostStyle handles POST /api/style/boost
func (h *AccountHandler) BoostStyle(c *fiber.Ctx) error {
	var req model.BoostStyleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	data, err := h.service.BoostStyle(c.Context(), req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, fiber.Map{"data": data})
}
