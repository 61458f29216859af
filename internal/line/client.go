package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zaiko-bot/internal/metrics"
)

const defaultBaseURL = "https://api.line.me"

// Client provides typed access to the LINE Messaging API.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	accessToken string
	http        *http.Client
	metrics     *metrics.Metrics
}

// Config holds LINE client configuration.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// New creates a new LINE Messaging API client.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:      logger.With("component", "line"),
		baseURL:     base,
		accessToken: cfg.AccessToken,
		http:        &http.Client{Timeout: timeout},
		metrics:     metricRegistry,
	}
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

// Reply sends one text message against a one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}
	if err := c.post(ctx, "/v2/bot/message/reply", "reply", body); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.LineOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

// Push sends one text message directly to a user id, outside a reply window.
func (c *Client) Push(ctx context.Context, to, text string) error {
	body := pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	}
	if err := c.post(ctx, "/v2/bot/message/push", "push", body); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.LineOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, endpoint string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	started := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if err == nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	if c.metrics != nil {
		c.metrics.LineRequests.WithLabelValues(endpoint, status).Inc()
		c.metrics.LineLatency.WithLabelValues(endpoint, status).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return fmt.Errorf("line %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("line %s request: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
