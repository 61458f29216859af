package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

const secret = "test-channel-secret"

type recordingProcessor struct {
	userIDs []string
	texts   []string
}

func (p *recordingProcessor) HandleTextMessage(ctx context.Context, userID, replyToken, text string) error {
	p.userIDs = append(p.userIDs, userID)
	p.texts = append(p.texts, text)
	return nil
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestHandler(p MessageProcessor) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhookHandler(secret, p, nil, logger, nil)
}

func TestWebhookDispatchesTextMessage(t *testing.T) {
	proc := &recordingProcessor{}
	handler := newTestHandler(proc)

	body := `{"events":[{"type":"message","replyToken":"tok","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"入力"}}]}`
	req := httptest.NewRequest("POST", "/webhook/line", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", sign(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(proc.texts) != 1 || proc.texts[0] != "入力" {
		t.Fatalf("dispatched texts = %v", proc.texts)
	}
	if proc.userIDs[0] != "U1" {
		t.Fatalf("user id = %q", proc.userIDs[0])
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	proc := &recordingProcessor{}
	handler := newTestHandler(proc)

	body := `{"events":[]}`
	req := httptest.NewRequest("POST", "/webhook/line", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", "not-a-signature")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(proc.texts) != 0 {
		t.Fatalf("processor called despite bad signature")
	}
}

func TestWebhookFlushesResponseBeforeProcessing(t *testing.T) {
	proc := &recordingProcessor{}
	handler := newTestHandler(proc)

	body := `{"events":[{"type":"message","replyToken":"tok","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"確認"}}]}`
	req := httptest.NewRequest("POST", "/webhook/line", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", sign(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !rec.Flushed {
		t.Fatal("response was not flushed before event processing")
	}
	if len(proc.texts) != 1 {
		t.Fatalf("events processed = %d, want 1", len(proc.texts))
	}
}

func TestWebhookIgnoresNonTextEvents(t *testing.T) {
	proc := &recordingProcessor{}
	handler := newTestHandler(proc)

	body := `{"events":[{"type":"message","replyToken":"tok","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"image"}},{"type":"follow","replyToken":"tok2","source":{"type":"user","userId":"U2"}}]}`
	req := httptest.NewRequest("POST", "/webhook/line", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", sign(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(proc.texts) != 0 {
		t.Fatalf("processor called for non-text events: %v", proc.texts)
	}
}
