package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"zaiko-bot/internal/metrics"
)

// MessageProcessor consumes inbound text messages from the webhook.
type MessageProcessor interface {
	HandleTextMessage(ctx context.Context, userID, replyToken, text string) error
}

// Event is a single entry of a LINE webhook delivery.
type Event struct {
	Type           string `json:"type"`
	ReplyToken     string `json:"replyToken"`
	WebhookEventID string `json:"webhookEventId"`
	Source         struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Deduper remembers delivered event ids so redelivered webhooks are dropped.
type Deduper interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// WebhookHandler validates LINE webhook deliveries and dispatches text
// messages to the processor.
type WebhookHandler struct {
	logger        *slog.Logger
	channelSecret []byte
	processor     MessageProcessor
	dedupe        Deduper
	metrics       *metrics.Metrics
}

// NewWebhookHandler creates a webhook handler. dedupe may be nil.
func NewWebhookHandler(channelSecret string, processor MessageProcessor, dedupe Deduper, logger *slog.Logger, metricRegistry *metrics.Metrics) *WebhookHandler {
	return &WebhookHandler{
		logger:        logger.With("component", "line_webhook"),
		channelSecret: []byte(channelSecret),
		processor:     processor,
		dedupe:        dedupe,
		metrics:       metricRegistry,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Error("read webhook body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, r.Header.Get("X-Line-Signature")) {
		h.logger.Warn("webhook signature mismatch")
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("webhook_signature").Inc()
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("decode webhook body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Respond and flush before processing so a slow event batch does not
	// hold the delivery open; retried deliveries are dropped through the
	// deduper.
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for _, ev := range payload.Events {
		h.handleEvent(r.Context(), ev)
	}
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.channelSecret)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func (h *WebhookHandler) handleEvent(ctx context.Context, ev Event) {
	if ev.Type != "message" || ev.Message.Type != "text" {
		return
	}
	if ev.Source.UserID == "" || ev.ReplyToken == "" {
		return
	}
	if h.metrics != nil {
		h.metrics.LineIncomingMessages.WithLabelValues(ev.Message.Type).Inc()
	}

	if h.dedupe != nil && ev.WebhookEventID != "" {
		seen, err := h.dedupe.Seen(ctx, "zaiko:event:"+ev.WebhookEventID, time.Hour)
		if err != nil {
			h.logger.Warn("event dedupe check failed", "error", err)
		} else if seen {
			h.logger.Debug("dropping redelivered event", "event_id", ev.WebhookEventID)
			return
		}
	}

	if err := h.processor.HandleTextMessage(ctx, ev.Source.UserID, ev.ReplyToken, ev.Message.Text); err != nil {
		h.logger.Error("process message", "user_id", ev.Source.UserID, "error", err)
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("process_message").Inc()
		}
	}
}
