package service

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/invoicewise/invoicewise/internal/domain"
	"github.com/invoicewise/invoicewise/internal/port"
)

const intentSystemPrompt = `You classify WhatsApp messages sent to an invoice assistant.
Reply with exactly one word from this list and nothing else:
- invoice_query: the user asks about their stored invoices, spending, items or vendors
- invoice_upload: the user is sending or announcing an invoice document to store
- greeting: a greeting or pleasantry with no actionable request
- unknown: anything else`

// IntentClassifier routes inbound messages by intent. It asks the chat model
// first and falls back to keyword matching when the model is unavailable or
// answers off-list.
type IntentClassifier struct {
	ai port.AIProvider
}

// NewIntentClassifier creates a classifier backed by the given provider.
// ai may be nil, which forces the keyword path.
func NewIntentClassifier(ai port.AIProvider) *IntentClassifier {
	return &IntentClassifier{ai: ai}
}

// Classify determines the intent of one message. It never fails.
func (c *IntentClassifier) Classify(ctx context.Context, message string, hasAttachment bool) domain.Intent {
	if hasAttachment {
		return domain.IntentInvoiceUpload
	}
	if strings.TrimSpace(message) == "" {
		return domain.IntentUnknown
	}

	if c.ai != nil {
		raw, err := c.ai.Chat(ctx, intentSystemPrompt, message, nil)
		if err == nil {
			if intent, ok := parseIntent(raw); ok {
				return intent
			}
			slog.Warn("intent model answered off-list", "answer", strings.TrimSpace(raw))
		} else {
			slog.Warn("intent classification model failed", "error", err)
		}
	}

	return KeywordIntent(message)
}

func parseIntent(raw string) (domain.Intent, bool) {
	switch domain.Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.IntentInvoiceQuery:
		return domain.IntentInvoiceQuery, true
	case domain.IntentInvoiceUpload:
		return domain.IntentInvoiceUpload, true
	case domain.IntentGreeting:
		return domain.IntentGreeting, true
	case domain.IntentUnknown:
		return domain.IntentUnknown, true
	}
	return domain.IntentUnknown, false
}

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hola|good (morning|afternoon|evening)|thanks|thank you)\b`)
	queryPattern    = regexp.MustCompile(`(?i)\b(invoice|invoices|spent|spend|bought|purchased|vendor|item|items|total|cost|paid|receipt|how much|how many|show|list|find)\b`)
	uploadPattern   = regexp.MustCompile(`(?i)\b(upload|attach|attached|sending|here is|new invoice|save this)\b`)
)

// KeywordIntent is the deterministic fallback classifier.
func KeywordIntent(message string) domain.Intent {
	switch {
	case uploadPattern.MatchString(message):
		return domain.IntentInvoiceUpload
	case queryPattern.MatchString(message):
		return domain.IntentInvoiceQuery
	case greetingPattern.MatchString(message):
		return domain.IntentGreeting
	default:
		return domain.IntentUnknown
	}
}
