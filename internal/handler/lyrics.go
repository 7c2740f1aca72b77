package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/pkg/response"
)

type LyricsHandler struct {
	service   *service.LyricsService
	validator *validator.Validate
}

func NewLyricsHandler(svc *service.LyricsService, v *validator.Validate) *LyricsHandler {
	return &LyricsHandler{
		service:   svc,
		validator: v,
	}
}

// Get handles POST /api/lyrics
// @Summary      Timestamped lyrics
// @Description  Word-aligned lyrics for one song, cached after the first fetch
// @Tags         Lyrics
// @Accept       json
// @Produce      json
// @Param        request body model.LyricsRequest true "Lyrics request"
// @Success      200 {object} model.LyricsResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/lyrics [post]
func (h *LyricsHandler) Get(c *fiber.Ctx) error {
	var req model.LyricsRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.Normalize()

	if req.ArtifactID == "" {
		return response.ValidationError(c, "Validation failed", map[string]string{"ArtifactID": "required"})
	}

	result, err := h.service.Get(c.Context(), middleware.GetUserID(c), req.ArtifactID)
	if err != nil {
		return writeError(c, err)
	}

	return response.OK(c, result)
}
