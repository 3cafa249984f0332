package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// WebhookTransport 通过 HTTP POST 投递推送消息。404/410 视为端点
// 永久失效，返回 ErrEndpointGone 让上层停用端点。
type WebhookTransport struct {
	client *http.Client
}

func NewWebhookTransport(timeout time.Duration) *WebhookTransport {
	return &WebhookTransport{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *WebhookTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造推送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("推送请求失败: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("端点返回 %d: %w", resp.StatusCode, ErrEndpointGone)
	default:
		return fmt.Errorf("端点返回 %d", resp.StatusCode)
	}
}
