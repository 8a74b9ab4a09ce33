package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	slackTextLimit   = 38000
	slackPostMessage = "https://slack.com/api/chat.postMessage"
)

// SlackWebhook posts to an incoming webhook.
type SlackWebhook struct {
	url    string
	client *http.Client
}

func NewSlackWebhook(webhookURL string) *SlackWebhook {
	return &SlackWebhook{url: webhookURL, client: &http.Client{Timeout: 15 * time.Second}}
}

func (s *SlackWebhook) Name() string { return "slack_webhook" }

func (s *SlackWebhook) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]string{"text": truncate(msg.Text, slackTextLimit)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

// SlackBot posts with chat.postMessage.
type SlackBot struct {
	token    string
	channel  string
	endpoint string
	client   *http.Client
}

func NewSlackBot(token, channel string) *SlackBot {
	return &SlackBot{
		token:    token,
		channel:  channel,
		endpoint: slackPostMessage,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *SlackBot) Name() string { return "slack_bot" }

func (s *SlackBot) Send(ctx context.Context, msg Message) error {
	form := url.Values{
		"channel": {s.channel},
		"text":    {truncate(msg.Text, slackTextLimit)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack bot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack bot: %s", resp.Status)
	}

	// Slack reports API errors with HTTP 200 and ok=false.
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("slack bot: decode response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("slack bot: %s", out.Error)
	}
	return nil
}

// stripURL drops the request URL from *url.Error; webhook URLs are secrets.
func stripURL(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
