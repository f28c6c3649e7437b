package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/invoicewise/invoicewise/internal/adapter/store"
	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
	"github.com/invoicewise/invoicewise/internal/service"
)

const answerSystemPrompt = `You are a helpful invoice assistant replying on WhatsApp.
Answer the user's question using ONLY the result rows provided as context.
Be concise and friendly. Mention amounts with their currency when present.
If the context is empty, say you could not find matching invoices.`

// MessageHandler processes inbound assistant messages: it resolves the
// sender, classifies intent and routes to query resolution or invoice
// ingestion. The transport delivering messages lives outside this service;
// this endpoint is the webhook it calls.
type MessageHandler struct {
	store      *store.PostgresStore
	classifier *service.IntentClassifier
	resolver   *service.Resolver
	extractor  *service.Extractor
	invoices   *service.InvoiceService
	ai         port.AIProvider
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(st *store.PostgresStore, classifier *service.IntentClassifier, resolver *service.Resolver, extractor *service.Extractor, invoices *service.InvoiceService, ai port.AIProvider) *MessageHandler {
	return &MessageHandler{
		store:      st,
		classifier: classifier,
		resolver:   resolver,
		extractor:  extractor,
		invoices:   invoices,
		ai:         ai,
	}
}

// Register sets up the inbound message webhook.
func (h *MessageHandler) Register(app *fiber.App) {
	app.Post("/webhook/message", h.Inbound)
}

// Inbound handles one inbound message.
func (h *MessageHandler) Inbound(c fiber.Ctx) error {
	var body struct {
		From         string          `json:"from"`
		Text         string          `json:"text"`
		DocumentText string          `json:"document_text,omitempty"`
		Name         string          `json:"name,omitempty"`
		Conversation []domain.QAPair `json:"conversation,omitempty"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.From == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender is required"})
	}

	user, err := h.store.UpsertUser(c.Context(), &domain.User{
		WhatsAppNumber: body.From,
		Name:           body.Name,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	intent := h.classifier.Classify(c.Context(), body.Text, body.DocumentText != "")
	slog.Info("inbound message classified",
		"user_id", user.ID, "intent", string(intent))

	switch intent {
	case domain.IntentInvoiceQuery:
		return h.answerQuery(c, user.ID, body.Text, body.Conversation)
	case domain.IntentInvoiceUpload:
		return h.ingestDocument(c, user.ID, body.DocumentText, body.Text)
	case domain.IntentGreeting:
		return c.JSON(fiber.Map{
			"reply":  fmt.Sprintf("Hi %s! Send me an invoice or ask me about your spending.", displayName(user)),
			"intent": intent,
		})
	default:
		return c.JSON(fiber.Map{
			"reply":  "I can store your invoices and answer questions about them. Try asking about your recent purchases.",
			"intent": intent,
		})
	}
}

func (h *MessageHandler) answerQuery(c fiber.Ctx, userID int64, question string, conversation []domain.QAPair) error {
	resolution := h.resolver.Resolve(c.Context(), question, userID, conversation)

	reply := h.composeAnswer(c.Context(), question, resolution)
	return c.JSON(fiber.Map{
		"reply":            reply,
		"intent":           domain.IntentInvoiceQuery,
		"request_id":       resolution.RequestID,
		"rows":             resolution.Rows,
		"source_breakdown": resolution.SourceBreakdown,
		"internal_error":   resolution.InternalError,
	})
}

// composeAnswer turns result rows into a conversational reply. Model failure
// degrades to a fixed phrasing so the webhook never errors on this leg.
func (h *MessageHandler) composeAnswer(ctx context.Context, question string, resolution *domain.Resolution) string {
	if len(resolution.Rows) == 0 {
		if resolution.InternalError {
			return "Something went wrong on my side while searching. Please try again."
		}
		return "I could not find any invoices matching that."
	}

	chunks := make([]string, 0, len(resolution.Rows))
	for _, row := range resolution.Rows {
		encoded, err := json.Marshal(row.Fields)
		if err != nil {
			continue
		}
		chunks = append(chunks, string(encoded))
	}

	reply, err := h.ai.Chat(ctx, answerSystemPrompt, question, chunks)
	if err != nil {
		slog.Warn("answer composition failed, using fallback phrasing", "error", err)
		return fmt.Sprintf("I found %d matching records. Ask me for details about any of them.", len(resolution.Rows))
	}
	return reply
}

func (h *MessageHandler) ingestDocument(c fiber.Ctx, userID int64, documentText, messageText string) error {
	text := documentText
	if text == "" {
		text = messageText
	}

	extracted, err := h.extractor.ExtractFromText(c.Context(), text)
	if err != nil {
		return c.JSON(fiber.Map{
			"reply":  "I could not read that as an invoice. Please send the document again.",
			"intent": domain.IntentInvoiceUpload,
		})
	}

	created, err := h.invoices.Ingest(c.Context(), userID, extracted)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"reply": fmt.Sprintf("Saved your invoice from %s for %.2f %s with %d items.",
			created.Vendor, created.TotalAmount, created.Currency, len(extracted.Items)),
		"intent":     domain.IntentInvoiceUpload,
		"invoice_id": created.ID,
	})
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}
