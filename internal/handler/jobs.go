package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/jobs
// @Summary      Submit a generation job
// @Description  Send a song or image job to the provider; track it over /ws
// @Tags         Jobs
// @Accept       json
// @Produce      json
// @Param        request body model.SubmitJobRequest true "Job request"
// @Success      202 {object} model.SubmitJobResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId/status
// @Summary      Poll a job once
// @Description  Returns the provider status payload unchanged
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        kind query string false "Job kind"
// @Security     BearerAuth
// @Router       /api/jobs/{jobId}/status [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	raw, err := h.service.Status(c.Context(), middleware.GetUserID(c), c.Params("jobId"), c.Query("kind"))
	if err != nil {
		return writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}

// Callback handles POST /api/callback. The provider insists on a callback
// URL; results are polled, so this only acknowledges.
func (h *JobHandler) Callback(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"received": true})
}
