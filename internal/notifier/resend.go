package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ResendConfig Resend HTTP API 配置。
type ResendConfig struct {
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	From     string        `yaml:"from" json:"from"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// ResendClient 通过 Resend API 发送邮件，实现 EmailSender。
type ResendClient struct {
	cfg    ResendConfig
	client *http.Client
}

// NewResendClient 创建客户端，未指定 httpClient 时使用带超时的默认客户端。
func NewResendClient(cfg ResendConfig, httpClient *http.Client) *ResendClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.resend.com/emails"
	}
	if cfg.From == "" {
		cfg.From = "BusTime <onboarding@resend.dev>"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &ResendClient{cfg: cfg, client: httpClient}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (c *ResendClient) Send(ctx context.Context, msg EmailMessage) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return fmt.Errorf("resend api key missing")
	}
	if msg.From == "" {
		msg.From = c.cfg.From
	}
	payload, err := json.Marshal(resendRequest{From: msg.From, To: msg.To, Subject: msg.Subject, Text: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
