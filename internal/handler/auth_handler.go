package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/middleware"
	"github.com/invoicewise/invoicewise/internal/port"
)

// AuthHandler issues API tokens for registered WhatsApp numbers.
type AuthHandler struct {
	store     *store.PostgresStore
	jwtConfig middleware.JWTConfig
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(st *store.PostgresStore, jwtConfig middleware.JWTConfig) *AuthHandler {
	return &AuthHandler{store: st, jwtConfig: jwtConfig}
}

// Register sets up auth routes.
func (h *AuthHandler) Register(app *fiber.App) {
	auth := app.Group("/api/v1/auth")
	auth.Post("/token", h.Token)
}

// RegisterProtected sets up auth routes that require a valid token.
func (h *AuthHandler) RegisterProtected(router fiber.Router) {
	router.Get("/me", h.Me)
}

// Token upserts a user keyed by WhatsApp number and returns a signed JWT.
func (h *AuthHandler) Token(c fiber.Ctx) error {
	var body struct {
		WhatsAppNumber string `json:"whatsapp_number"`
		Name           string `json:"name,omitempty"`
		Email          string `json:"email,omitempty"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.WhatsAppNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "whatsapp_number is required"})
	}

	user, err := h.store.UpsertUser(c.Context(), &domain.User{
		WhatsAppNumber: body.WhatsAppNumber,
		Name:           body.Name,
		Email:          body.Email,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	token, err := middleware.GenerateJWT(user, h.jwtConfig)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Me returns the profile of the authenticated user.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	user, err := h.store.GetUserByID(c.Context(), uc.UserID)
	if err != nil {
		if errors.Is(err, port.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"user": user})
}
