package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/playground/internal/auth"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/pkg/response"
)

// AuthHandler exchanges the configured password for a session token
type AuthHandler struct {
	passwords *auth.PasswordBook
	tokens    *auth.SessionTokens
	validator *validator.Validate
}

func NewAuthHandler(passwords *auth.PasswordBook, tokens *auth.SessionTokens, v *validator.Validate) *AuthHandler {
	return &AuthHandler{
		passwords: passwords,
		tokens:    tokens,
		validator: v,
	}
}

// Login handles POST /api/login
// @Summary      Log in
// @Description  Exchange the access password for a bearer token
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body model.LoginRequest true "Login request"
// @Success      200 {object} model.LoginResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Router       /api/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req model.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if !h.passwords.Enabled() {
		return response.Unauthorized(c, "Password login is disabled")
	}

	userID, err := h.passwords.Login(req.Password)
	if err != nil {
		return response.Unauthorized(c, "Invalid password")
	}

	token, expiresAt, err := h.tokens.Issue(userID)
	if err != nil {
		return response.ServiceError(c, "Failed to issue token")
	}

	return response.OK(c, model.LoginResponse{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.Unix(),
	})
}
