package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/pkg/response"
)

// LibraryHandler serves the song library, image gallery and projects
type LibraryHandler struct {
	service   *service.LibraryService
	validator *validator.Validate
}

func NewLibraryHandler(svc *service.LibraryService, v *validator.Validate) *LibraryHandler {
	return &LibraryHandler{
		service:   svc,
		validator: v,
	}
}

// ListSongs handles GET /api/songs
// @Summary      List songs
// @Tags         Library
// @Produce      json
// @Param        projectId query string false "Project ID, empty for unfiled"
// @Param        favorites query bool false "Favorites only"
// @Success      200 {array} model.Artifact
// @Security     BearerAuth
// @Router       /api/songs [get]
func (h *LibraryHandler) ListSongs(c *fiber.Ctx) error {
	var f model.ListFilter
	if c.Context().QueryArgs().Has("projectId") {
		if id := c.Query("projectId"); id != "" {
			f.ProjectID = &id
		} else {
			f.Unfiled = true
		}
	}
	f.Unfiled = f.Unfiled || c.QueryBool("unfiled")
	f.FavoritesOnly = c.QueryBool("favorites")

	songs, err := h.service.ListSongs(c.Context(), middleware.GetUserID(c), f)
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, nonNil(songs))
}

// ListImages handles GET /api/images
func (h *LibraryHandler) ListImages(c *fiber.Ctx) error {
	images, err := h.service.ListImages(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, nonNil(images))
}

// DeleteSong handles DELETE /api/songs/:id
func (h *LibraryHandler) DeleteSong(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), middleware.GetUserID(c), model.ArtifactKindSong, c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}

// DeleteImage handles DELETE /api/images/:id
func (h *LibraryHandler) DeleteImage(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), middleware.GetUserID(c), model.ArtifactKindImage, c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}

// SetFavorite handles PUT /api/songs/:id/favorite
// @Summary      Mark or unmark a favorite
// @Tags         Library
// @Accept       json
// @Param        id path string true "Song ID"
// @Param        request body model.FavoriteRequest true "Favorite flag"
// @Success      204
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/songs/{id}/favorite [put]
func (h *LibraryHandler) SetFavorite(c *fiber.Ctx) error {
	var req model.FavoriteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.SetFavorite(c.Context(), middleware.GetUserID(c), c.Params("id"), *req.IsFavorite); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}

// Move handles PUT /api/songs/:id/move
func (h *LibraryHandler) Move(c *fiber.Ctx) error {
	var req model.MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.service.MoveToProject(c.Context(), middleware.GetUserID(c), c.Params("id"), req.ProjectID); err != nil {
		return writeError(c, err)
	}
	return response.NoContent(c)
}

// Stream handles GET /api/songs/:id/stream
func (h *LibraryHandler) Stream(c *fiber.Ctx) error {
	url, err := h.service.StreamURL(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Redirect(url, fiber.StatusFound)
}

// ListProjects handles GET /api/projects
func (h *LibraryHandler) ListProjects(c *fiber.Ctx) error {
	projects, err := h.service.ListProjects(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, nonNil(projects))
}

// CreateProject handles POST /api/projects
// @Summary      Create a project
// @Tags         Library
// @Accept       json
// @Produce      json
// @Param        request body model.CreateProjectRequest true "Project"
// @Success      201 {object} model.Project
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects [post]
func (h *LibraryHandler) CreateProject(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	project, err := h.service.CreateProject(c.Context(), middleware.GetUserID(c), req.Name)
	if err != nil {
		return writeError(c, err)
	}
	return response.Created(c, project)
}

// DeleteProject handles DELETE /api/projects/:id. Its songs become unfiled.
func (h *LibraryHandler) DeleteProject(c *fiber.Ctx) error {
	n, err := h.service.DeleteProject(c.Context(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return response.OK(c, model.DeleteProjectResponse{Reassigned: n})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
