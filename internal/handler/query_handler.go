package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/middleware"
	"github.com/invoicewise/invoicewise/internal/service"
)

// QueryHandler handles natural-language query endpoints.
type QueryHandler struct {
	resolver *service.Resolver
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(resolver *service.Resolver) *QueryHandler {
	return &QueryHandler{resolver: resolver}
}

// Register sets up query routes.
func (h *QueryHandler) Register(router fiber.Router) {
	query := router.Group("/query")
	query.Post("/", h.Resolve)
}

// Resolve answers a natural-language question about the caller's invoices.
func (h *QueryHandler) Resolve(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Question     string          `json:"question"`
		Conversation []domain.QAPair `json:"conversation,omitempty"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "question is required"})
	}

	resolution := h.resolver.Resolve(c.Context(), body.Question, uc.UserID, body.Conversation)

	return c.JSON(fiber.Map{
		"request_id":        resolution.RequestID,
		"rows":              resolution.Rows,
		"source_breakdown":  resolution.SourceBreakdown,
		"execution_time_ms": resolution.ExecutionTime.Milliseconds(),
		"internal_error":    resolution.InternalError,
	})
}
