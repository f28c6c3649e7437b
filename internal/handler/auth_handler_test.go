package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicewise/invoicewise/internal/middleware"
)

func TestMeRequiresAuthentication(t *testing.T) {
	app := fiber.New()
	h := NewAuthHandler(nil, middleware.JWTConfig{})
	h.RegisterProtected(app.Group("/api/v1"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
