package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/middleware"
	"github.com/invoicewise/invoicewise/internal/port"
	"github.com/invoicewise/invoicewise/internal/service"
)

// InvoiceHandler handles invoice upload and retrieval endpoints.
type InvoiceHandler struct {
	invoices  *service.InvoiceService
	extractor *service.Extractor
}

// NewInvoiceHandler creates a new invoice handler.
func NewInvoiceHandler(invoices *service.InvoiceService, extractor *service.Extractor) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, extractor: extractor}
}

// Register sets up invoice routes.
func (h *InvoiceHandler) Register(router fiber.Router) {
	invoices := router.Group("/invoices")
	invoices.Post("/upload", h.Upload)
	invoices.Get("/", h.List)
	invoices.Get("/:id", h.Get)
	invoices.Delete("/:id", h.Delete)
	router.Get("/stats", h.Stats)
}

// Upload extracts and stores an invoice from an uploaded PDF or plain text.
func (h *InvoiceHandler) Upload(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var extracted *domain.ExtractedInvoice
	var err error

	if file, fErr := c.FormFile("document"); fErr == nil {
		f, oErr := file.Open()
		if oErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable upload"})
		}
		defer f.Close()

		data, rErr := io.ReadAll(f)
		if rErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable upload"})
		}
		extracted, err = h.extractor.ExtractFromPDF(c.Context(), data)
	} else {
		var body struct {
			Text string `json:"text"`
		}
		if bErr := c.Bind().JSON(&body); bErr != nil || body.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "document file or text is required"})
		}
		extracted, err = h.extractor.ExtractFromText(c.Context(), body.Text)
	}
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}

	created, err := h.invoices.Ingest(c.Context(), uc.UserID, extracted)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// List returns the caller's invoices.
func (h *InvoiceHandler) List(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	invoices, err := h.invoices.List(c.Context(), uc.UserID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"invoices": invoices,
		"count":    len(invoices),
	})
}

// Get returns one invoice with its line items.
func (h *InvoiceHandler) Get(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	invoiceID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid invoice id"})
	}

	inv, items, err := h.invoices.Get(c.Context(), uc.UserID, invoiceID)
	if errors.Is(err, port.ErrInvoiceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invoice not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"invoice": inv,
		"items":   items,
	})
}

// Delete removes one invoice and its line items.
func (h *InvoiceHandler) Delete(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	invoiceID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid invoice id"})
	}

	err = h.invoices.Delete(c.Context(), uc.UserID, invoiceID)
	if errors.Is(err, port.ErrInvoiceNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "invoice not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Stats returns the caller's invoice and embedding coverage counts.
func (h *InvoiceHandler) Stats(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	stats, err := h.invoices.Stats(c.Context(), uc.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}
